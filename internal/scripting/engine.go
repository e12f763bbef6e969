// Package scripting embeds a Lua VM so operators can moderate chat without
// rebuilding the server. Scripts in <dir>/chat/ may define a filter_chat
// function; every direct and group message passes through it before relay.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Chat handlers run on many session
// goroutines, so every VM call serializes on the engine mutex.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	has bool // some script defined filter_chat
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all chat scripts from the given
// directory. A missing directory is not an error: the engine just passes
// everything through.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := e.loadDir(filepath.Join(scriptsDir, "chat")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load chat scripts: %w", err)
	}

	e.has = vm.GetGlobal("filter_chat") != lua.LNil
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Enabled reports whether any script installed a chat filter.
func (e *Engine) Enabled() bool {
	return e != nil && e.has
}

// Close shuts the VM down.
func (e *Engine) Close() {
	if e != nil {
		e.vm.Close()
	}
}

// ChatContext holds one message about to be relayed.
type ChatContext struct {
	From  string
	To    string // direct recipient username, empty for group traffic
	Group string // group id, empty for direct messages
	Text  string
}

// ChatResult is the filter verdict.
type ChatResult struct {
	Allow bool
	Text  string
}

// FilterChat calls the Lua filter_chat function. The script may return
// false to drop the message, or a table {allow=..., text=...} to drop or
// rewrite it. Any script error lets the message through unchanged; a buggy
// filter must never silence the server.
func (e *Engine) FilterChat(ctx ChatContext) ChatResult {
	pass := ChatResult{Allow: true, Text: ctx.Text}
	if !e.Enabled() {
		return pass
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("filter_chat")
	if fn == lua.LNil {
		return pass
	}

	// Build context table
	t := e.vm.NewTable()
	t.RawSetString("from", lua.LString(ctx.From))
	t.RawSetString("to", lua.LString(ctx.To))
	t.RawSetString("group", lua.LString(ctx.Group))
	t.RawSetString("text", lua.LString(ctx.Text))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua filter_chat error", zap.Error(err))
		return pass
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	switch rv := result.(type) {
	case *lua.LTable:
		out := ChatResult{Allow: true, Text: ctx.Text}
		if rv.RawGetString("allow") == lua.LFalse {
			out.Allow = false
		}
		if txt, ok := rv.RawGetString("text").(lua.LString); ok {
			out.Text = string(txt)
		}
		return out
	case lua.LBool:
		if rv == lua.LFalse {
			return ChatResult{Allow: false}
		}
		return pass
	default:
		return pass
	}
}
