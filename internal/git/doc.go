// Package git runs the git CLI on behalf of the relay and the session
// manager.
//
// Every command's exit code and output are captured verbatim in a Result;
// the relay forwards them across the trust boundary unchanged. The package also holds the small
// helpers that touch repository files directly: the ignore-file policy
// and remote URL credential injection.
package git
