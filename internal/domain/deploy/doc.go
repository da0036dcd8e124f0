// Package deploy holds the domain model for deployment runs: the stage and
// result enumerations, the allowed stage transitions, and the Record type
// persisted after each run.
package deploy
