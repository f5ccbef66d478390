// Package lua runs plugins written in Lua.
//
// Each plugin gets its own gopher-lua state. The state opens only the
// base, package, table, string and math libraries, removes the globals
// that load code from files or strings, and limits require to those
// libraries plus modules registered by the host. Every entry into the
// interpreter carries a deadline.
//
// # Host module
//
// Scripts reach the host through the phobos module, available both as a
// global and through require:
//
//	local phobos = require("phobos")
//
//	function install()
//	    phobos.link({protocol = "mailto", name = "Mailer", command = "compose"})
//	    phobos.boot("sync", 50, {interval = 300})
//	end
//
//	function run(args)
//	    local r = phobos.read_config("last")
//	    phobos.write_config("last", args)
//	    return {success = true, message = "previous: " .. (r.data or "none")}
//	end
//
// Every host call returns a table {success, message, kind, data}.
// Argument payloads given as tables are encoded as JSON.
//
// # Lifecycle hooks
//
// The global functions install, launch, closing, uninstall, update(old,
// new) and run(args) are called for the matching lifecycle event. A hook
// may return nothing, a boolean with an optional message, a message
// string, or a result table. Missing hooks succeed.
package lua
