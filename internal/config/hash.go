package config

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashBytes returns the BLAKE3 hex digest of data. Logged at startup and
// reported by /healthz so operators can tell which config a process runs.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
