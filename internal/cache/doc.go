// Package cache maps artifact keys to files under a shared cache root.
//
// The cache has three observable states per key: a positive entry (the
// transcoded artifact exists on disk), a negative entry (a marker file whose
// text is the expiry instant of a past failure), and a miss. The directory is
// shared with other processes and possibly other server instances, so every
// read is probe-based and every publication is a single rename or a single
// small write; ENOENT and concurrent deletion are normal outcomes, never
// errors.
//
// Layout under the root:
//
//	<name>/<guid><age-hex>/<name>-v<version>.symcache
//	<name>/<guid><age-hex>/<name>-v<version>.negativesymcache
//	.temp/<random>/...  (per-attempt staging trees)
//
// Staging lives under the root so publication renames stay on one volume.
package cache
