// Package history implements persistence for deployment Records.
//
// The FileRepository stores and loads the last run as JSON on disk and
// exposes a Repository interface that the deployer service depends on.
package history
