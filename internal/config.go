package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ryanmoran/worldsync/internal/relay"
	"github.com/ryanmoran/worldsync/internal/session"
)

const (
	// DefaultDataRoot holds the repository clone and the relay queues.
	DefaultDataRoot = "./data"

	// DefaultRepoPath is the clone location, relative to the data root.
	DefaultRepoPath = "repo"

	// DefaultSyncInterval is the autosave period.
	DefaultSyncInterval = 300 * time.Second

	DefaultContainerName = "minecraft"
	DefaultImage         = "itzg/minecraft-server"
	DefaultServerDataDir = "/data"

	DefaultRconHost = "127.0.0.1"
	DefaultRconPort = 25575
)

// Commands lists the subcommands the CLI accepts.
var Commands = []string{"agent", "run", "start", "save", "stop", "status"}

type Config struct {
	Command string   `yaml:"-"`
	Force   bool     `yaml:"-"`
	Message string   `yaml:"-"`
	Args    []string `yaml:"-"`

	DataRoot     string          `yaml:"data_root"`
	LogLevel     string          `yaml:"log_level"`
	SyncInterval time.Duration   `yaml:"-"`
	SyncSeconds  int             `yaml:"sync_interval_seconds"`
	Repo         RepoConfig      `yaml:"repo"`
	Git          GitUserConfig   `yaml:"git"`
	Relay        RelayConfig     `yaml:"relay"`
	Agent        AgentConfig     `yaml:"agent"`
	Rcon         RconConfig      `yaml:"rcon"`
	Container    ContainerConfig `yaml:"container"`
}

type RepoConfig struct {
	URL           string `yaml:"url"`
	Branch        string `yaml:"branch"`
	SessionPrefix string `yaml:"session_branch_prefix"`
	Path          string `yaml:"path"`
	Username      string `yaml:"username"`
	Token         string `yaml:"token"`
}

type GitUserConfig struct {
	Name  string `yaml:"user_name"`
	Email string `yaml:"user_email"`
}

type RelayConfig struct {
	Mode         relay.Mode    `yaml:"mode"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AgentConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ResponseTTL  time.Duration `yaml:"response_ttl"`
}

type RconConfig struct {
	Enable   bool   `yaml:"enable"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type ContainerConfig struct {
	// Name empty disables container management; the server runs elsewhere.
	Name        ContainerName `yaml:"name"`
	Image       ImageName     `yaml:"image"`
	Network     string        `yaml:"network"`
	Memory      string        `yaml:"memory"`
	MemoryBytes int64         `yaml:"-"`
	Command     Command       `yaml:"command"`
	Env         Environment   `yaml:"env"`
	Volumes     []string      `yaml:"volumes"`
	StopTimeout int           `yaml:"stop_timeout"`
}

// RepoDir returns the absolute clone directory.
func (c Config) RepoDir() string {
	if filepath.IsAbs(c.Repo.Path) {
		return filepath.Clean(c.Repo.Path)
	}
	return filepath.Join(c.DataRoot, c.Repo.Path)
}

// StatePath returns the session record location.
func (c Config) StatePath() string {
	return filepath.Join(relay.Layout{Root: c.DataRoot}.ControlDir(), session.StateFile)
}

func defaultConfig() Config {
	return Config{
		DataRoot:    DefaultDataRoot,
		LogLevel:    "info",
		SyncSeconds: int(DefaultSyncInterval / time.Second),
		Repo: RepoConfig{
			Branch:        relay.DefaultMainBranch,
			SessionPrefix: relay.DefaultSessionPrefix,
			Path:          DefaultRepoPath,
		},
		Git: GitUserConfig{
			Name:  "worldsync",
			Email: "worldsync@localhost",
		},
		Relay: RelayConfig{
			Mode:         relay.ModeAuto,
			Timeout:      relay.DefaultClientTimeout,
			PollInterval: relay.DefaultClientInterval,
		},
		Agent: AgentConfig{
			PollInterval: relay.DefaultAgentInterval,
			ResponseTTL:  relay.DefaultResponseTTL,
		},
		Rcon: RconConfig{
			Host: DefaultRconHost,
			Port: DefaultRconPort,
		},
		Container: ContainerConfig{
			Name:        DefaultContainerName,
			Image:       DefaultImage,
			StopTimeout: 60,
		},
	}
}

type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (s *stringSlice) Type() string {
	return "stringSlice"
}

// ParseConfig builds the configuration from, in increasing precedence,
// built-in defaults, the YAML file named by --config or WORLDSYNC_CONFIG,
// environment variables and command-line flags. The first positional
// argument selects the subcommand.
func ParseConfig(args []string, environment []string) (Config, error) {
	lookup := make(map[string]string)
	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	var (
		configPath   string
		dataRoot     string
		logLevel     string
		repoURL      string
		branch       string
		relayMode    string
		relayTimeout time.Duration
		syncInterval time.Duration
		message      string
		force        bool
		noContainer  bool
		env          stringSlice
		volumes      stringSlice
	)

	fs := pflag.NewFlagSet("worldsync", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	fs.StringVar(&dataRoot, "data-root", "", "directory holding the clone and relay queues")
	fs.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&repoURL, "repo", "", "remote repository URL")
	fs.StringVar(&branch, "branch", "", "shared branch sessions merge into")
	fs.StringVar(&relayMode, "relay-mode", "", "auto, agent or direct")
	fs.DurationVar(&relayTimeout, "relay-timeout", 0, "how long to wait for the agent")
	fs.DurationVar(&syncInterval, "sync-interval", 0, "autosave period for run")
	fs.StringVarP(&message, "message", "m", "", "commit message for save")
	fs.BoolVarP(&force, "force", "f", false, "stop even with players online")
	fs.BoolVar(&noContainer, "no-container", false, "leave the server container alone")
	fs.VarP(&env, "env", "e", "environment variable for the server container")
	fs.VarP(&volumes, "volume", "v", "extra volume mount for the server container")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	config := defaultConfig()

	if !fs.Changed("config") {
		configPath = lookup["WORLDSYNC_CONFIG"]
	}
	if configPath != "" {
		if err := loadFile(configPath, &config); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvironment(lookup, &config); err != nil {
		return Config{}, err
	}

	if fs.Changed("data-root") {
		config.DataRoot = dataRoot
	}
	if fs.Changed("log-level") {
		config.LogLevel = logLevel
	}
	if fs.Changed("repo") {
		config.Repo.URL = repoURL
	}
	if fs.Changed("branch") {
		config.Repo.Branch = branch
	}
	if fs.Changed("relay-mode") {
		config.Relay.Mode = relay.Mode(relayMode)
	}
	if fs.Changed("relay-timeout") {
		config.Relay.Timeout = relayTimeout
	}
	config.SyncInterval = time.Duration(config.SyncSeconds) * time.Second
	if fs.Changed("sync-interval") {
		config.SyncInterval = syncInterval
	}
	if noContainer {
		config.Container.Name = ""
	}
	config.Container.Env = append(config.Container.Env, env...)
	config.Container.Volumes = append(config.Container.Volumes, volumes...)
	config.Message = message
	config.Force = force

	positional := fs.Args()
	if len(positional) > 0 {
		config.Command = positional[0]
		config.Args = positional[1:]
	}

	if err := config.finalize(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func loadFile(path string, config *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(content, config); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w\nCheck the YAML syntax and field names", path, err)
	}

	return nil
}

func applyEnvironment(lookup map[string]string, config *Config) error {
	values := map[string]*string{
		"DATA_DIR":      &config.DataRoot,
		"GIT_REPO":      &config.Repo.URL,
		"GIT_BRANCH":    &config.Repo.Branch,
		"GIT_USERNAME":  &config.Repo.Username,
		"GIT_TOKEN":     &config.Repo.Token,
		"RCON_PASSWORD": &config.Rcon.Password,
		"LOG_LEVEL":     &config.LogLevel,
	}
	for key, target := range values {
		if value, ok := lookup[key]; ok && value != "" {
			*target = value
		}
	}

	if value, ok := lookup["RELAY_MODE"]; ok && value != "" {
		config.Relay.Mode = relay.Mode(value)
	}

	if value, ok := lookup["SYNC_INTERVAL_SECONDS"]; ok && value != "" {
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SYNC_INTERVAL_SECONDS %q: %w", value, err)
		}
		config.SyncSeconds = seconds
	}

	return nil
}

func (c *Config) finalize() error {
	mode, err := relay.ParseMode(string(c.Relay.Mode))
	if err != nil {
		return err
	}
	c.Relay.Mode = mode

	root, err := filepath.Abs(c.DataRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve data root %q: %w", c.DataRoot, err)
	}
	c.DataRoot = root

	if c.Container.Memory != "" {
		bytes, err := units.RAMInBytes(c.Container.Memory)
		if err != nil {
			return fmt.Errorf("invalid container memory %q: %w", c.Container.Memory, err)
		}
		c.Container.MemoryBytes = bytes
	}

	if c.Rcon.Enable && c.Rcon.Password == "" {
		return errors.New("rcon is enabled but no password is set\nSet rcon.password or RCON_PASSWORD")
	}

	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("invalid relay timeout %s: must be positive", c.Relay.Timeout)
	}

	if c.Relay.PollInterval <= 0 {
		return fmt.Errorf("invalid relay poll interval %s: must be positive", c.Relay.PollInterval)
	}

	if c.Agent.PollInterval <= 0 {
		return fmt.Errorf("invalid agent poll interval %s: must be positive", c.Agent.PollInterval)
	}

	return nil
}
