package capability

import (
	"crypto/subtle"

	"github.com/dshills/phobos/internal/plugin/manifest"
)

// Policy decides trust and system access at bind time.
type Policy struct {
	// Tokens maps package ids to the secret their manifest must carry to
	// be trusted.
	Tokens map[string]string

	// SystemGrants lists untrusted package ids allowed to use system
	// configuration.
	SystemGrants map[string]bool
}

// Trusted reports whether meta's secret matches its configured token.
func (p Policy) Trusted(meta *manifest.Metadata) bool {
	if meta == nil || meta.Secret == "" {
		return false
	}
	token, ok := p.Tokens[meta.PackageID]
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(meta.Secret)) == 1
}

// SystemAccess reports whether a plugin may use system configuration.
func (p Policy) SystemAccess(meta *manifest.Metadata, trusted bool) bool {
	if trusted {
		return true
	}
	return meta != nil && p.SystemGrants[meta.PackageID]
}
