// Package packager produces the release archive consumed by the deployer.
//
// It enumerates the source tree, filters it through the exclusion set, stages
// the surviving files into an isolated copy, compresses that copy into a
// tar.gz archive and writes a manifest with per-file and archive checksums.
package packager
