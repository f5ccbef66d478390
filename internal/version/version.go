// Package version parses plugin version strings and decides whether one
// build may be installed over another.
//
// Accepted form is major.minor.patch with an optional pre-release tag:
//
//	1.2.0
//	1.2.0-beta01
//	1.2.0-rc
//
// The tag is a run of letters followed by an optional non-negative number
// (defaulting to 0). A tagged build is ordered after the plain release with
// the same major.minor.patch, and builds with different tag names at the same
// base cannot be ordered at all.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Relation is the outcome of comparing two versions.
type Relation int

const (
	// Less means the left version is older.
	Less Relation = iota - 1
	// Equal means both versions denote the same build.
	Equal
	// Greater means the left version is newer.
	Greater
	// Incompatible means the versions share a base but carry different
	// pre-release lineages.
	Incompatible
)

// String returns a lowercase name for the relation.
func (r Relation) String() string {
	switch r {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	case Incompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// Inverse returns the relation seen from the other side.
func (r Relation) Inverse() Relation {
	switch r {
	case Less:
		return Greater
	case Greater:
		return Less
	default:
		return r
	}
}

// Version is a parsed version string.
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Tag    string // pre-release lineage, lowercased; empty for a plain release
	TagNum int
}

var pattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([A-Za-z]+)[.]?(\d*))?$`)

// Parse parses s. The second return value is false when s is not a valid
// version string.
func Parse(s string) (Version, bool) {
	m := pattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, false
	}

	var v Version
	var err error
	if v.Major, err = strconv.Atoi(m[1]); err != nil {
		return Version{}, false
	}
	if v.Minor, err = strconv.Atoi(m[2]); err != nil {
		return Version{}, false
	}
	if v.Patch, err = strconv.Atoi(m[3]); err != nil {
		return Version{}, false
	}

	v.Tag = strings.ToLower(m[4])
	if m[5] != "" {
		if v.TagNum, err = strconv.Atoi(m[5]); err != nil {
			return Version{}, false
		}
	}
	return v, true
}

// MustParse is like Parse but panics on invalid input. Intended for
// constants and tests.
func MustParse(s string) Version {
	v, ok := Parse(s)
	if !ok {
		panic(fmt.Sprintf("version: invalid version %q", s))
	}
	return v
}

// Valid reports whether s parses.
func Valid(s string) bool {
	_, ok := Parse(s)
	return ok
}

// IsPrerelease reports whether the version carries a tag.
func (v Version) IsPrerelease() bool {
	return v.Tag != ""
}

// String formats the version. Tag numbers are zero-padded to two digits.
func (v Version) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Tag == "" {
		return base
	}
	return fmt.Sprintf("%s-%s%02d", base, v.Tag, v.TagNum)
}

// Compare orders v against o.
func (v Version) Compare(o Version) Relation {
	if r := cmpInt(v.Major, o.Major); r != Equal {
		return r
	}
	if r := cmpInt(v.Minor, o.Minor); r != Equal {
		return r
	}
	if r := cmpInt(v.Patch, o.Patch); r != Equal {
		return r
	}

	switch {
	case v.Tag == "" && o.Tag == "":
		return Equal
	case v.Tag == "":
		// A pre-release at the same base sorts after the plain release.
		return Less
	case o.Tag == "":
		return Greater
	case v.Tag != o.Tag:
		return Incompatible
	default:
		return cmpInt(v.TagNum, o.TagNum)
	}
}

// Compare parses and compares two version strings. An unparsable string
// sorts below any valid one; two unparsable strings are Equal.
func Compare(a, b string) Relation {
	va, okA := Parse(a)
	vb, okB := Parse(b)
	switch {
	case !okA && !okB:
		return Equal
	case !okA:
		return Less
	case !okB:
		return Greater
	}
	return va.Compare(vb)
}

// CanInstallOver reports whether a build versioned next may replace an
// installed build versioned existing.
func CanInstallOver(next, existing string) bool {
	switch Compare(next, existing) {
	case Greater, Equal:
		return true
	default:
		return false
	}
}

// Satisfies reports whether have meets the minimum version min.
func Satisfies(have, min string) bool {
	return CanInstallOver(have, min)
}

func cmpInt(a, b int) Relation {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}
