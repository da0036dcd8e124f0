// Package target abstracts the machine a release is installed on.
//
// The Target interface exposes slot-level operations (upload, rotate,
// extract, restore) plus service process control. SSHTarget drives a remote
// host over SSH/SFTP; LocalTarget applies the same slot semantics to the
// local filesystem with checksum-gated file installs.
package target
