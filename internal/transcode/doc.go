// Package transcode turns a PDB into a SymCache artifact and publishes it
// into the cache.
//
// Each attempt stages everything under a private directory inside the cache
// root's .temp area: the upstream PDB is copied in, the external transcoder
// runs against the copy, and the finished artifact is moved to its final
// location with a single rename. Keeping staging under the cache root makes
// that rename same-volume, so the target directory's permissions survive and
// the publication is atomic. Every failure mode short of cancellation writes
// a time-bounded negative marker so clients stop retrying a lost cause.
//
// Two attempts for the same key may race — one from the request path, one
// from the background queue, or one from another process sharing the cache.
// The rename is the tie-breaker: the loser observes the winner's file and
// reports it as its own result.
package transcode
