// Package internal contains shared types and utilities for worldsync.
//
// It provides configuration parsing, cleanup orchestration and the output
// abstraction used by the command entrypoint, along with the container
// naming types shared with the docker package.
package internal
