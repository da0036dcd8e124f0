// Package manifest defines the release manifest written by the packager and
// consumed by the deployer.
//
// The manifest records the release version, the archive name and SHA512
// checksums for the archive and every member file. The deployer verifies the
// archive checksum after upload; the local target additionally gates each
// installed file on its member checksum.
package manifest
