package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a three-part semantic version with an optional prerelease tag.
// The zero value is "0.0.0".
type Version struct {
	Major      uint16
	Minor      uint8
	Patch      uint8
	Prerelease string
}

var versionPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z-]+))?$`)

// Parse parses s as "major.minor.patch" with an optional "-prerelease" tag.
func Parse(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}

	major, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return Version{}, fmt.Errorf("invalid major version in %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(m[2], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("invalid minor version in %q: %w", s, err)
	}
	patch, err := strconv.ParseUint(m[3], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("invalid patch version in %q: %w", s, err)
	}

	return Version{
		Major:      uint16(major),
		Minor:      uint8(minor),
		Patch:      uint8(patch),
		Prerelease: m[4],
	}, nil
}

// MustParse parses s and panics on failure. For constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version, including the prerelease tag when present.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		b.WriteByte('-')
		b.WriteString(v.Prerelease)
	}
	return b.String()
}

// Compare returns -1, 0, or +1 when v is ordered before, equal to, or after
// other. A version with a prerelease tag sorts strictly below the same
// numeric version without one; two prerelease tags compare by ordinal
// byte comparison.
func (v Version) Compare(other Version) int {
	if c := compareUint(uint64(v.Major), uint64(other.Major)); c != 0 {
		return c
	}
	if c := compareUint(uint64(v.Minor), uint64(other.Minor)); c != 0 {
		return c
	}
	if c := compareUint(uint64(v.Patch), uint64(other.Patch)); c != 0 {
		return c
	}

	switch {
	case v.Prerelease == "" && other.Prerelease == "":
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	default:
		return strings.Compare(v.Prerelease, other.Prerelease)
	}
}

// Less reports whether v orders strictly before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// LessOrEqual reports whether v orders before or equal to other.
func (v Version) LessOrEqual(other Version) bool {
	return v.Compare(other) <= 0
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
