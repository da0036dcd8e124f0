// Package config defines deployment settings used by the binaries and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the remote host coordinates, SSH identity, service
// parameters and the packaging/health-check knobs. Per-run values (the
// runtime secret, stage skip flags) are never serialized.
package config
