// Package deployer installs a packaged release on a deployment target and
// guarantees the service is left in a known-good state.
//
// A run walks an explicit state machine: upload and verify the archive, turn
// the active slot into the backup, extract the new slot, build and restart
// the service, then gate success on a bounded health probe window. When the
// window is exhausted the backup slot is restored; a failed restore is
// surfaced as a distinct catastrophic error requiring manual intervention.
package deployer
