package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/semver"
)

func testKey(t *testing.T, version string, age uint32) artifact.Key {
	t.Helper()
	g, err := artifact.ParseGUID("ABCDEF0123456789ABCDEF0123456789")
	if err != nil {
		t.Fatalf("ParseGUID: %v", err)
	}
	k, err := artifact.New(semver.MustParse(version), "ntdll.pdb", g, age)
	if err != nil {
		t.Fatalf("artifact.New: %v", err)
	}
	return k
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestLookupMissOnEmptyRoot(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	if res := r.Lookup(testKey(t, "3.1.0", 1)); res.State != Miss {
		t.Fatalf("expected miss, got %v", res.State)
	}
}

func TestPathForIsCanonical(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	want := filepath.Join(r.Root(), "ntdll.pdb", "ABCDEF0123456789ABCDEF01234567891", "ntdll.pdb-v3.1.0.symcache")
	if got := r.PathFor(key); got != want {
		t.Fatalf("PathFor = %s, want %s", got, want)
	}
	if r.PathFor(key) != r.PathFor(testKey(t, "3.1.0", 1)) {
		t.Fatalf("PathFor is not a pure function of the key")
	}
}

func TestLookupPositive(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	path := r.PathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := r.Lookup(key)
	if res.State != Positive {
		t.Fatalf("expected positive, got %v", res.State)
	}
	if res.Path != path {
		t.Fatalf("path = %s, want %s", res.Path, path)
	}
	if res.Version != semver.MustParse("3.1.0") {
		t.Fatalf("version = %s, want 3.1.0", res.Version)
	}
}

func TestLookupServesOlderFormatVersion(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	cached := testKey(t, "3.0.9", 1)

	path := r.PathFor(cached)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// A client asking for 3.1.0 can read the 3.0.9 entry.
	res := r.Lookup(testKey(t, "3.1.0", 1))
	if res.State != Positive || res.Version != semver.MustParse("3.0.9") {
		t.Fatalf("expected positive 3.0.9, got %v %s", res.State, res.Version)
	}

	// A client pinned below the cached version cannot.
	if res := r.Lookup(testKey(t, "3.0.5", 1)); res.State != Miss {
		t.Fatalf("expected miss below cached version, got %v", res.State)
	}
}

func TestNegativeLifecycle(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	r.MarkNegative(key)
	if res := r.Lookup(key); res.State != Negative {
		t.Fatalf("expected negative, got %v", res.State)
	}

	// Marking again is idempotent.
	r.MarkNegative(key)
	if res := r.Lookup(key); res.State != Negative {
		t.Fatalf("expected negative after re-mark, got %v", res.State)
	}

	// Jump past the TTL: the marker reads as miss and is deleted.
	r.now = func() time.Time { return time.Now().Add(NegativeTTL + time.Minute) }
	if res := r.Lookup(key); res.State != Miss {
		t.Fatalf("expected miss after expiry, got %v", res.State)
	}
	if _, err := os.Stat(r.negativePathFor(key)); !os.IsNotExist(err) {
		t.Fatalf("expired marker should have been unlinked, stat err = %v", err)
	}
}

func TestNegativeMarkerExpiryIsFuture(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	before := time.Now().UTC()
	r.MarkNegative(key)

	data, err := os.ReadFile(r.negativePathFor(key))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	expiry, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		t.Fatalf("marker is not a round-trip timestamp: %v", err)
	}
	if !expiry.After(before) {
		t.Fatalf("expiry %v is not in the future of %v", expiry, before)
	}
}

func TestUnparseableNegativeMarkerIsMiss(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	path := r.negativePathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte("not a timestamp"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if res := r.Lookup(key); res.State != Miss {
		t.Fatalf("expected miss for garbage marker, got %v", res.State)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("garbage marker should have been unlinked")
	}
}

func TestPositiveBeatsNegative(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	key := testKey(t, "3.1.0", 1)

	r.MarkNegative(key)

	path := r.PathFor(key)
	if err := os.WriteFile(path, []byte("artifact"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if res := r.Lookup(key); res.State != Positive {
		t.Fatalf("positive entry should win over negative marker, got %v", res.State)
	}
}

func TestNewStagingDirIsUnderRoot(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)

	a, err := r.NewStagingDir()
	if err != nil {
		t.Fatalf("NewStagingDir: %v", err)
	}
	b, err := r.NewStagingDir()
	if err != nil {
		t.Fatalf("NewStagingDir: %v", err)
	}

	if a == b {
		t.Fatalf("staging dirs must be unique, both %s", a)
	}
	rel, err := filepath.Rel(r.StagingRoot(), a)
	if err != nil || rel == ".." || filepath.IsAbs(rel) {
		t.Fatalf("staging dir %s is not under %s", a, r.StagingRoot())
	}
	info, err := os.Stat(a)
	if err != nil || !info.IsDir() {
		t.Fatalf("staging dir was not created: %v", err)
	}
}
