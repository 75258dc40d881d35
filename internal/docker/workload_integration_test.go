//go:build integration
// +build integration

package docker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal"
	"github.com/ryanmoran/worldsync/internal/docker"
)

// TestWorkloadLifecycle runs a real container through Start, Status and Stop
func TestWorkloadLifecycle(t *testing.T) {
	client, err := docker.NewDefaultClient()
	if err != nil {
		t.Skip("Docker not available:", err)
	}
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx); err != nil {
		t.Skip("Docker not available:", err)
	}

	name := internal.ContainerName(fmt.Sprintf("worldsync-test-%d", time.Now().UnixNano()))
	workload := docker.Workload{
		Name:        name,
		Image:       "alpine:latest",
		Command:     []string{"sleep", "300"},
		StopTimeout: 1,
	}
	defer func() {
		_ = client.Stop(ctx, name, 1)
	}()

	t.Run("starts the workload", func(t *testing.T) {
		_, err := client.Start(ctx, workload)
		require.NoError(t, err)

		status, err := client.Status(ctx, name)
		require.NoError(t, err)
		require.True(t, status.Running)
	})

	t.Run("replaces a running workload of the same name", func(t *testing.T) {
		container, err := client.Start(ctx, workload)
		require.NoError(t, err)

		status, err := client.Status(ctx, name)
		require.NoError(t, err)
		require.Equal(t, container.ID, status.ID)
	})

	t.Run("stops and removes the workload", func(t *testing.T) {
		require.NoError(t, client.Stop(ctx, name, 1))

		status, err := client.Status(ctx, name)
		require.NoError(t, err)
		require.False(t, status.Exists)
	})
}
