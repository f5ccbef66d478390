package capability

import "time"

// Operation names a capability.
type Operation string

// Capability operations.
const (
	OpRequestPhobos  Operation = "request_phobos"
	OpLink           Operation = "link"
	OpRequest        Operation = "request"
	OpLinkDefault    Operation = "link_default"
	OpReadConfig     Operation = "read_config"
	OpWriteConfig    Operation = "write_config"
	OpReadSysConfig  Operation = "read_sys_config"
	OpWriteSysConfig Operation = "write_sys_config"
	OpBoot           Operation = "boot"
	OpRemoveBoot     Operation = "remove_boot"
	OpBootItems      Operation = "boot_items"
)

// CallerContext identifies the plugin behind one capability call. The
// router creates a new one for every call.
type CallerContext struct {
	PackageID   string
	DatabaseKey string
	Trusted     bool
	Time        time.Time
}
