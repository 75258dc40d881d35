package internal

// ContainerName identifies the workload container by name.
type ContainerName string

// ImageName represents a Docker image name.
type ImageName string

// Command represents the command and arguments to execute in the container.
type Command []string

// Environment represents environment variables to pass to the container.
type Environment []string
