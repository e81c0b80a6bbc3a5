package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"afpfs":  {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// validateSQLiteFilesystem ensures the DB path is on a local filesystem.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Use a local path via service.data_dir and keep the transcode history on local disk",
			path,
			fsType,
		)
	}

	return nil
}

// ValidateDataPath is the exported form of the SQLite filesystem check, for
// preflight tooling that wants the verdict without opening the database.
func ValidateDataPath(path string) error {
	return validateSQLiteFilesystem(path)
}

// CheckCacheFilesystem reports the filesystem type under the cache root and
// whether it is a known network filesystem. Publication into the cache relies
// on rename atomicity, which network filesystems do not reliably provide;
// callers warn rather than fail because operators do run shared caches.
func CheckCacheFilesystem(root string) (fsType string, network bool, err error) {
	inspectPath, err := nearestExistingPath(root)
	if err != nil {
		return "", false, fmt.Errorf("resolve cache root %q: %w", root, err)
	}
	fsType, err = detectFilesystemType(inspectPath)
	if err != nil {
		return "", false, fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}
	return fsType, isNetworkFilesystem(fsType), nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
