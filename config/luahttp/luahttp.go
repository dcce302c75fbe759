// Package luahttp exposes a minimal HTTP client as a Lua module so script
// targets can reach their providers through the server's shared client.
package luahttp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
	luar "layeh.com/gopher-luar"
)

type Request struct {
	URL    string
	Method string
	// Username/Password are sent as HTTP basic auth when Username is set.
	Username       string
	Password       string
	TimeoutSeconds int
}

type Response struct {
	Status int
	Ok     bool
}

type LuaHTTP struct {
	client *http.Client
}

// NewLoader builds the module loader. The module exports a single request
// function taking a table with url, method, params, username, password and
// timeout_seconds keys and returning the response status.
func NewLoader(client *http.Client) func(*lua.LState) int {
	return (&LuaHTTP{client: client}).loader
}

func (lhttp *LuaHTTP) loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"request": lhttp.luaRequest,
	})
	L.Push(mod)
	return 1
}

func (lhttp *LuaHTTP) luaRequest(L *lua.LState) int {
	reqTbl := L.CheckTable(1)
	var req Request
	err := gluamapper.Map(reqTbl, &req)
	if err != nil {
		L.RaiseError("error making request: %v", err)
		return 0
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	ctx := context.Background()
	if req.TimeoutSeconds != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), req.URL, nil)
	if err != nil {
		L.RaiseError("error making request: %v", err)
		return 0
	}
	// Query parameter keys must keep their exact spelling, so they are read
	// off the table directly instead of going through the mapper.
	if pt, ok := reqTbl.RawGetString("params").(*lua.LTable); ok {
		params := url.Values{}
		pt.ForEach(func(key, value lua.LValue) {
			params.Set(key.String(), value.String())
		})
		httpReq.URL.RawQuery = params.Encode()
	}
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := lhttp.client.Do(httpReq)
	if err != nil {
		L.RaiseError("error making request: %v", err)
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	L.Push(luar.New(L, Response{
		Status: resp.StatusCode,
		Ok:     resp.StatusCode < http.StatusBadRequest,
	}))
	return 1
}
