package internal_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/worldsync/internal"
)

// TestConfigErrorCases tests edge cases and error scenarios in config parsing
func TestConfigErrorCases(t *testing.T) {
	t.Run("ParseConfig edge cases", func(t *testing.T) {
		t.Run("empty args", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{}, nil)
			require.NoError(t, err)
			require.Empty(t, config.Command)
			require.Empty(t, config.Args)
		})

		t.Run("extra positional arguments", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"save", "one", "two"}, nil)
			require.NoError(t, err)
			require.Equal(t, "save", config.Command)
			require.Equal(t, []string{"one", "two"}, config.Args)
		})

		t.Run("environment entries without equals", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"status"}, []string{"GIT_BRANCH", "LOG_LEVEL=debug"})
			require.NoError(t, err)
			require.Equal(t, "main", config.Repo.Branch)
			require.Equal(t, "debug", config.LogLevel)
		})

		t.Run("environment values containing equals", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"status"}, []string{"GIT_TOKEN=abc=def"})
			require.NoError(t, err)
			require.Equal(t, "abc=def", config.Repo.Token)
		})

		t.Run("mixed case relay mode", func(t *testing.T) {
			config, err := internal.ParseConfig([]string{"--relay-mode", "Agent"}, nil)
			require.NoError(t, err)
			require.Equal(t, "agent", string(config.Relay.Mode))
		})
	})

	t.Run("ParseConfig failures", func(t *testing.T) {
		t.Run("unknown flag", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"--no-such-flag", "status"}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "no-such-flag")
		})

		t.Run("help requested", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"--help"}, nil)
			require.ErrorIs(t, err, pflag.ErrHelp)
		})

		t.Run("invalid relay mode", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"status"}, []string{"RELAY_MODE=carrier-pigeon"})
			require.Error(t, err)
			require.Contains(t, err.Error(), "carrier-pigeon")
		})

		t.Run("invalid sync interval", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"run"}, []string{"SYNC_INTERVAL_SECONDS=soon"})
			require.Error(t, err)
			require.Contains(t, err.Error(), "SYNC_INTERVAL_SECONDS")
		})

		t.Run("invalid duration flag", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"--relay-timeout", "forever"}, nil)
			require.Error(t, err)
		})

		t.Run("non-positive relay timeout", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"--relay-timeout", "0s"}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "relay timeout")
		})

		t.Run("non-positive relay poll interval", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "worldsync.yml")
			require.NoError(t, os.WriteFile(path, []byte("relay:\n  mode: agent\n  poll_interval: 0s\n"), 0o644))

			_, err := internal.ParseConfig([]string{"-c", path}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid relay poll interval 0s")
		})

		t.Run("non-positive agent poll interval", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "worldsync.yml")
			require.NoError(t, os.WriteFile(path, []byte("agent:\n  poll_interval: -1s\n"), 0o644))

			_, err := internal.ParseConfig([]string{"-c", path}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid agent poll interval -1s")
		})

		t.Run("missing config file", func(t *testing.T) {
			_, err := internal.ParseConfig([]string{"-c", filepath.Join(t.TempDir(), "missing.yml")}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "failed to read config file")
		})

		t.Run("malformed config file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yml")
			require.NoError(t, os.WriteFile(path, []byte("repo: [unterminated\n"), 0o644))

			_, err := internal.ParseConfig([]string{"-c", path}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "failed to parse config file")
		})

		t.Run("invalid memory size", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "worldsync.yml")
			require.NoError(t, os.WriteFile(path, []byte("container:\n  memory: lots\n"), 0o644))

			_, err := internal.ParseConfig([]string{"-c", path}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid container memory")
		})

		t.Run("rcon enabled without a password", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "worldsync.yml")
			require.NoError(t, os.WriteFile(path, []byte("rcon:\n  enable: true\n"), 0o644))

			_, err := internal.ParseConfig([]string{"-c", path}, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "RCON_PASSWORD")

			_, err = internal.ParseConfig([]string{"-c", path}, []string{"RCON_PASSWORD=hunter2"})
			require.NoError(t, err)
		})
	})
}
