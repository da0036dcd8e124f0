// Package version carries the build metadata for the deploy tooling.
//
// Version, Commit and BuildTime are injected via Go ldflags; Short feeds the
// release manifest and Full backs the CLI version subcommand.
package version
