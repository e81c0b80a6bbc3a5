// Package artifact defines the identity of a SymCache artifact: the tuple of
// format version, PDB name, signature GUID, and age that addresses one cache
// entry and one upstream PDB.
package artifact

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/symgate/internal/semver"
)

// Key identifies a single artifact. Keys are value types: comparable with ==,
// usable as map keys. The GUID dominates the hash in practice, which is fine
// because the other fields are highly redundant across requests.
type Key struct {
	Version semver.Version
	Name    string
	GUID    GUID
	Age     uint32
}

// GUID is a 128-bit identifier stored as 16 raw bytes.
type GUID [16]byte

// ParseGUID accepts 32 hex digits, with or without the canonical
// 8-4-4-4-12 dash grouping, in either case.
func ParseGUID(s string) (GUID, error) {
	var g GUID

	cleaned := strings.ReplaceAll(s, "-", "")
	if len(cleaned) != 32 {
		return g, fmt.Errorf("guid %q must be 32 hex digits", s)
	}
	for i := 0; i < 16; i++ {
		b, err := strconv.ParseUint(cleaned[i*2:i*2+2], 16, 8)
		if err != nil {
			return g, fmt.Errorf("guid %q is not hexadecimal", s)
		}
		g[i] = byte(b)
	}
	return g, nil
}

// String renders the GUID as 32 uppercase hex digits, no grouping.
func (g GUID) String() string {
	return fmt.Sprintf("%032X", [16]byte(g))
}

// ValidateName rejects artifact names with directory components or other
// shapes that could escape the cache root.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("artifact name is empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("artifact name %q is invalid", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact name %q must not contain path separators", name)
	}
	return nil
}

// New builds a Key after validating the name.
func New(version semver.Version, name string, guid GUID, age uint32) (Key, error) {
	if err := ValidateName(name); err != nil {
		return Key{}, err
	}
	return Key{Version: version, Name: name, GUID: guid, Age: age}, nil
}

// IndexSegment renders the "<guid><age>" directory segment shared by the
// cache layout and the upstream symbol-server URL scheme: 32 uppercase hex
// digits followed by the age in uppercase hex with no padding.
func (k Key) IndexSegment() string {
	return k.GUID.String() + strings.ToUpper(strconv.FormatUint(uint64(k.Age), 16))
}

// String is a log-friendly rendering of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/v%s", k.Name, k.IndexSegment(), k.Version)
}
