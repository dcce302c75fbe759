// Package luazap exposes a zap logger as a Lua module so configuration
// scripts and script targets can log through the server's logger.
package luazap

import (
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

type luaZap struct {
	logger *zap.Logger
}

// NewLoader builds the module loader. The module exports debug, info, warn
// and error functions taking a message and an optional table of fields.
func NewLoader(logger *zap.Logger) func(*lua.LState) int {
	return (&luaZap{logger: logger}).loader
}

func (lz *luaZap) loader(L *lua.LState) int {
	exports := make(map[string]lua.LGFunction)
	for _, level := range []string{"debug", "info", "warn", "error"} {
		exports[level] = lz.makeLogFunc(level)
	}
	mod := L.SetFuncs(L.NewTable(), exports)
	L.Push(mod)
	return 1
}

func (lz *luaZap) makeLogFunc(level string) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		fields := make([]zap.Field, 0)
		if L.GetTop() >= 2 {
			if tbl, ok := L.Get(2).(*lua.LTable); ok {
				tbl.ForEach(func(key, value lua.LValue) {
					// Field names keep their exact spelling.
					fields = append(fields, zap.Any(
						key.String(),
						gluamapper.ToGoValue(value, gluamapper.Option{NameFunc: gluamapper.Id}),
					))
				})
			}
		}
		switch level {
		case "debug":
			lz.logger.Debug(msg, fields...)
		case "info":
			lz.logger.Info(msg, fields...)
		case "warn":
			lz.logger.Warn(msg, fields...)
		case "error":
			lz.logger.Error(msg, fields...)
		}
		return 0
	}
}
