// Package session implements the branch-per-session workflow: each run of
// the workload happens on its own timestamped branch, which is saved
// periodically and merged back into the shared branch when the run ends.
// The session branch always wins conflicts against the shared branch.
package session
