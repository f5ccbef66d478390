package lua

import (
	"context"
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/logging"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/protocol"
)

// ModuleName is the name scripts require to reach the host.
const ModuleName = "phobos"

// Capabilities is the host surface a script can reach. plugin.Base
// satisfies it.
type Capabilities interface {
	RequestPhobos(ctx context.Context, request, args string) capability.Result
	Link(ctx context.Context, a protocol.Association) capability.Result
	Request(ctx context.Context, command, args string, callback func(capability.Result)) capability.Result
	LinkDefault(ctx context.Context, scheme string) capability.Result
	ReadConfig(ctx context.Context, key, target string) capability.Result
	WriteConfig(ctx context.Context, key, value, target string) capability.Result
	ReadSysConfig(ctx context.Context, key string) capability.Result
	WriteSysConfig(ctx context.Context, key, value string) capability.Result
	BootWithPhobos(ctx context.Context, command string, priority int, args string) capability.Result
	RemoveBootWithPhobos(ctx context.Context, id string) capability.Result
	GetBootItems(ctx context.Context) capability.Result
}

// hostModule exposes Capabilities as the phobos Lua module.
type hostModule struct {
	caps   Capabilities
	logger *logging.Logger
}

func newHostModule(caps Capabilities, logger *logging.Logger) *hostModule {
	if logger == nil {
		logger = logging.Nop()
	}
	return &hostModule{caps: caps, logger: logger}
}

// Funcs returns the module's function table.
func (m *hostModule) Funcs() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"request_phobos":   m.requestPhobos,
		"link":             m.link,
		"link_default":     m.linkDefault,
		"request":          m.request,
		"read_config":      m.readConfig,
		"write_config":     m.writeConfig,
		"read_sys_config":  m.readSysConfig,
		"write_sys_config": m.writeSysConfig,
		"boot":             m.boot,
		"remove_boot":      m.removeBoot,
		"boot_items":       m.bootItems,
		"log":              m.log,
	}
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// phobos.request_phobos(request, args?) -> result
func (m *hostModule) requestPhobos(L *lua.LState) int {
	request := L.CheckString(1)
	args := payload(L, 2)
	L.Push(resultTable(L, m.caps.RequestPhobos(luaContext(L), request, args)))
	return 1
}

// phobos.link({protocol=, name=, description=, command=, localized={}}) -> result
func (m *hostModule) link(L *lua.LState) int {
	tbl := L.CheckTable(1)
	b := NewBridge(L)

	var a protocol.Association
	a.Protocol, _ = b.GetTableString(tbl, "protocol")
	a.Name, _ = b.GetTableString(tbl, "name")
	a.Description, _ = b.GetTableString(tbl, "description")
	a.Command, _ = b.GetTableString(tbl, "command")
	a.Localized = b.GetTableStringMap(tbl, "localized")

	L.Push(resultTable(L, m.caps.Link(luaContext(L), a)))
	return 1
}

// phobos.link_default(scheme) -> result
func (m *hostModule) linkDefault(L *lua.LState) int {
	scheme := L.CheckString(1)
	L.Push(resultTable(L, m.caps.LinkDefault(luaContext(L), scheme)))
	return 1
}

// phobos.request(command, args?, callback?) -> result
func (m *hostModule) request(L *lua.LState) int {
	command := L.CheckString(1)
	args := payload(L, 2)
	fn := L.OptFunction(3, nil)

	var callback func(capability.Result)
	if fn != nil {
		callback = func(res capability.Result) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, resultTable(L, res)); err != nil {
				m.logger.Warn("request callback failed", "command", command, "error", err)
			}
		}
	}

	L.Push(resultTable(L, m.caps.Request(luaContext(L), command, args, callback)))
	return 1
}

// phobos.read_config(key, target?) -> result
func (m *hostModule) readConfig(L *lua.LState) int {
	key := L.CheckString(1)
	target := L.OptString(2, "")
	L.Push(resultTable(L, m.caps.ReadConfig(luaContext(L), key, target)))
	return 1
}

// phobos.write_config(key, value, target?) -> result
func (m *hostModule) writeConfig(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	target := L.OptString(3, "")
	L.Push(resultTable(L, m.caps.WriteConfig(luaContext(L), key, value, target)))
	return 1
}

// phobos.read_sys_config(key) -> result
func (m *hostModule) readSysConfig(L *lua.LState) int {
	key := L.CheckString(1)
	L.Push(resultTable(L, m.caps.ReadSysConfig(luaContext(L), key)))
	return 1
}

// phobos.write_sys_config(key, value) -> result
func (m *hostModule) writeSysConfig(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	L.Push(resultTable(L, m.caps.WriteSysConfig(luaContext(L), key, value)))
	return 1
}

// phobos.boot(command, priority?, args?) -> result
func (m *hostModule) boot(L *lua.LState) int {
	command := L.CheckString(1)
	priority := L.OptInt(2, boot.DefaultPriority)
	args := payload(L, 3)
	L.Push(resultTable(L, m.caps.BootWithPhobos(luaContext(L), command, priority, args)))
	return 1
}

// phobos.remove_boot(id?) -> result
func (m *hostModule) removeBoot(L *lua.LState) int {
	id := L.OptString(1, "")
	L.Push(resultTable(L, m.caps.RemoveBootWithPhobos(luaContext(L), id)))
	return 1
}

// phobos.boot_items() -> result
func (m *hostModule) bootItems(L *lua.LState) int {
	L.Push(resultTable(L, m.caps.GetBootItems(luaContext(L))))
	return 1
}

// phobos.log(level, message)
func (m *hostModule) log(L *lua.LState) int {
	level := logging.ParseLevel(L.CheckString(1))
	msg := L.CheckString(2)
	switch level {
	case logging.LevelDebug:
		m.logger.Debug(msg)
	case logging.LevelWarn:
		m.logger.Warn(msg)
	case logging.LevelError:
		m.logger.Error(msg)
	default:
		m.logger.Info(msg)
	}
	return 0
}

// payload reads an optional argument payload. Tables are encoded as JSON.
func payload(L *lua.LState, n int) string {
	v := L.Get(n)
	switch v.Type() {
	case lua.LTNil:
		return ""
	case lua.LTString, lua.LTNumber:
		return lua.LVAsString(v)
	case lua.LTTable:
		data, err := json.Marshal(NewBridge(L).ToGoValue(v))
		if err != nil {
			L.ArgError(n, err.Error())
		}
		return string(data)
	default:
		L.ArgError(n, fmt.Sprintf("string or table expected, got %s", v.Type()))
		return ""
	}
}

// resultTable converts a capability result into {success, message, kind, data}.
func resultTable(L *lua.LState, res capability.Result) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("success", lua.LBool(res.Success))
	t.RawSetString("message", lua.LString(res.Message))
	t.RawSetString("kind", lua.LString(res.Kind.String()))
	t.RawSetString("data", dataValue(L, res.Data))
	return t
}

func dataValue(L *lua.LState, data any) lua.LValue {
	switch v := data.(type) {
	case boot.Item:
		return bootItemTable(L, v)
	case []boot.Item:
		t := L.NewTable()
		for i, item := range v {
			t.RawSetInt(i+1, bootItemTable(L, item))
		}
		return t
	case protocol.Handler:
		return handlerTable(L, v)
	case []protocol.Handler:
		t := L.NewTable()
		for i, h := range v {
			t.RawSetInt(i+1, handlerTable(L, h))
		}
		return t
	default:
		return NewBridge(L).ToLuaValue(data)
	}
}

func bootItemTable(L *lua.LState, item boot.Item) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(item.ID))
	t.RawSetString("package_id", lua.LString(item.PackageID))
	t.RawSetString("command", lua.LString(item.Command))
	t.RawSetString("priority", lua.LNumber(item.Priority))
	t.RawSetString("args", lua.LString(item.Args))
	t.RawSetString("created_at", lua.LNumber(item.CreatedAt.Unix()))
	return t
}

func handlerTable(L *lua.LState, h protocol.Handler) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(h.ID))
	t.RawSetString("protocol", lua.LString(h.Protocol))
	t.RawSetString("name", lua.LString(h.Name))
	t.RawSetString("package_id", lua.LString(h.PackageID))
	t.RawSetString("description", lua.LString(h.Description))
	t.RawSetString("command", lua.LString(h.Command))
	t.RawSetString("is_default", lua.LBool(h.IsDefault))
	t.RawSetString("is_updated", lua.LBool(h.IsUpdated))
	return t
}
