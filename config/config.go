// Package config loads the Lua configuration file and constructs the server
// settings and the configured update targets from it.
package config

import (
	"fmt"
	"net/http"
	"net/netip"
	"sync"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/lumpenputzer/dyndns-forwarding-server/config/luahttp"
	"github.com/lumpenputzer/dyndns-forwarding-server/config/luazap"
	"github.com/lumpenputzer/dyndns-forwarding-server/pkg/log"
	"github.com/lumpenputzer/dyndns-forwarding-server/target"
	cloudflaretarget "github.com/lumpenputzer/dyndns-forwarding-server/target/cloudflare"
	"github.com/lumpenputzer/dyndns-forwarding-server/target/inwx"
	"github.com/lumpenputzer/dyndns-forwarding-server/target/ionos"
	"github.com/lumpenputzer/dyndns-forwarding-server/target/namecheap"
	route53target "github.com/lumpenputzer/dyndns-forwarding-server/target/route53"
	"github.com/lumpenputzer/dyndns-forwarding-server/target/script"
)

const defaultBind = "127.0.0.1:8000"

// Server holds the inbound listener settings.
type Server struct {
	Bind     string
	Username string
	// PasswordBcrypt is the bcrypt hash the inbound basic auth password is
	// checked against.
	PasswordBcrypt string
}

// Config is an interface for configuration providers for server and target
// configuration and initialization.
type Config interface {
	Parse() error
	Server() (Server, error)
	Targets() ([]target.Target, error)
}

type luaConfig struct {
	logger         *zap.Logger
	configFileName string
	httpClient     *http.Client
	state          *lua.LState
	// stateMu guards the Lua state, which script targets keep using during
	// the concurrent update fan-out.
	stateMu            sync.Mutex
	serverDeclaration  *lua.LTable
	targetDeclarations map[string]*lua.LTable
}

// NewLuaConfig builds a new Lua script configuration provider. httpClient is
// handed to script targets through the preloaded http module.
func NewLuaConfig(configFileName string, httpClient *http.Client) (Config, error) {
	c := &luaConfig{
		logger:         log.MustNewLogger().Named("lua_config"),
		configFileName: configFileName,
		httpClient:     httpClient,
	}
	return c, nil
}

// Parse parses and executes the Lua script passed in and builds the server
// and target declarations.
func (c *luaConfig) Parse() error {
	if c.state != nil && !c.state.IsClosed() {
		c.state.Close()
	}
	c.state = lua.NewState()
	// Disable zap's built-in caller annotation; it would point into the
	// binding instead of the script.
	c.state.PreloadModule("log", luazap.NewLoader(c.logger.WithOptions(zap.WithCaller(false))))
	c.state.PreloadModule("http", luahttp.NewLoader(c.httpClient))
	err := c.state.DoFile(c.configFileName)
	if err != nil {
		newErr := fmt.Errorf("config: failed to execute configuration file %s: %w", c.configFileName, err)
		c.logger.Error(newErr.Error())
		return newErr
	}
	lv := c.state.Get(-1)
	t, ok := lv.(*lua.LTable)
	if !ok {
		err = fmt.Errorf("config: config file %q does not return a table", c.configFileName)
		c.logger.Error(err.Error())
		return err
	}
	targetDeclarations := make(map[string]*lua.LTable)
	var serverDeclaration *lua.LTable
	t.ForEach(func(key, value lua.LValue) {
		if key.String() == "server" {
			st, ok := value.(*lua.LTable)
			if !ok {
				c.logger.Sugar().Panicf("config: could not convert %#v to LTable", value)
			}
			serverDeclaration = st
		}
		if key.String() == "targets" {
			tt, ok := value.(*lua.LTable)
			if !ok {
				c.logger.Sugar().Panicf("config: could not convert %#v to LTable", value)
			}
			tt.ForEach(func(targetName, targetDeclaration lua.LValue) {
				td, ok := targetDeclaration.(*lua.LTable)
				if !ok {
					c.logger.Sugar().Panicf("config: could not convert %#v to LTable", targetDeclaration)
				}
				targetDeclarations[targetName.String()] = td
			})
		}
	})
	c.serverDeclaration = serverDeclaration
	c.targetDeclarations = targetDeclarations
	return nil
}

// Server parses the server declaration, filling in defaults.
func (c *luaConfig) Server() (Server, error) {
	s := Server{Bind: defaultBind}
	if c.serverDeclaration != nil {
		if err := gluamapper.Map(c.serverDeclaration, &s); err != nil {
			return s, fmt.Errorf("config: could not map server declaration: %w", err)
		}
	}
	if s.Bind == "" {
		s.Bind = defaultBind
	}
	if s.Username == "" || s.PasswordBcrypt == "" {
		return s, fmt.Errorf("config: server.username and server.password_bcrypt must be set")
	}
	return s, nil
}

type staticConfig struct {
	Name       string
	IPv6Suffix string
}

// Targets parses the target declarations into a slice of initialized and
// configured targets.
func (c *luaConfig) Targets() ([]target.Target, error) {
	targets := make([]target.Target, 0)
	for targetName, targetDeclaration := range c.targetDeclarations {
		targetLogger := c.logger.Sugar().With("target", targetName)
		targetLogger.Infof("config: processing target %s", targetName)

		var targetInstance target.Target
		var err error

		kind := targetDeclaration.RawGetInt(1).String()
		targetConfigRaw := targetDeclaration.RawGetString("config")
		targetConfig, ok := targetConfigRaw.(*lua.LTable)
		if !ok {
			err = fmt.Errorf("config: config for %s could not convert value %#v to LTable", targetName, targetConfigRaw)
			targetLogger.Error(err)
			return targets, err
		}

		targetLogger = targetLogger.With("kind", kind)
		targetLogger.Infof("config: target %s is kind %s", targetName, kind)
		switch kind {
		case "static":
			var sc staticConfig
			err = gluamapper.Map(targetConfig, &sc)
			if err == nil {
				if sc.Name == "" {
					sc.Name = targetName
				}
				var suffix netip.Addr
				suffix, err = target.ParseSuffix(sc.IPv6Suffix)
				if err == nil {
					targetInstance = target.NewStatic(sc.Name, suffix)
				}
			}
		case "ionos":
			var ic ionos.Config
			err = gluamapper.Map(targetConfig, &ic)
			if err == nil {
				if ic.Name == "" {
					ic.Name = targetName
				}
				targetInstance, err = ionos.NewIonosTarget(ic)
			}
		case "namecheap":
			var nc namecheap.Config
			err = gluamapper.Map(targetConfig, &nc)
			if err == nil {
				targetInstance, err = namecheap.NewNamecheapTarget(nc)
			}
		case "inwx":
			var iwc inwx.Config
			err = gluamapper.Map(targetConfig, &iwc)
			if err == nil {
				targetInstance, err = inwx.NewINWXTarget(iwc)
			}
		case "cloudflare":
			var cc cloudflaretarget.Config
			err = gluamapper.Map(targetConfig, &cc)
			if err == nil {
				targetInstance, err = cloudflaretarget.NewCloudflareTarget(cc)
			}
		case "aws_route53":
			var rc route53target.Config
			err = gluamapper.Map(targetConfig, &rc)
			if err == nil {
				targetInstance, err = route53target.NewRoute53Target(rc)
			}
		case "script":
			doUpdateFunc, fnOK := targetConfig.RawGetString("do_update").(*lua.LFunction)
			if !fnOK {
				err = fmt.Errorf("config: script target %s has no do_update function", targetName)
			} else {
				var suffix netip.Addr
				suffix, err = target.ParseSuffix(lua.LVAsString(targetConfig.RawGetString("ipv6_suffix")))
				if err == nil {
					targetInstance, err = script.NewScriptTarget(c.state, &c.stateMu, doUpdateFunc, targetName, suffix)
				}
			}
		default:
			err = fmt.Errorf("config: target %s has unknown kind %q", targetName, kind)
		}

		if err != nil {
			targetLogger.Errorw("error configuring target", "err", err)
			return targets, err
		}
		targets = append(targets, targetInstance)
		targetLogger.Info("config: Finished configuration")
	}
	return targets, nil
}
