// Package docker manages the lifecycle of the game server container.
//
// The workload is addressed by container name: Start replaces any container
// of the same name, Stop stops and removes it, and Status reports whether it
// is running. The Client type is the main entry point for all Docker
// operations.
package docker
