package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/justapithecus/edman/ipc"
	"github.com/justapithecus/edman/types"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultDownloadSubdirectory = "edman"
	DefaultDrainTimeout         = 5 * time.Second
	DefaultDataset              = "edman"
	DefaultAdapterTimeout       = 10 * time.Second
	DefaultAdapterRetries       = 3
)

// Config represents an edman.yaml file. Every value is optional; CLI flags
// override what the file sets.
type Config struct {
	DownloadDirectory    string   `yaml:"download_directory"`
	DownloadSubdirectory string   `yaml:"download_subdirectory"`
	SaveFileDirectory    string   `yaml:"save_file_directory"`
	AllowedOrigins       []string `yaml:"allowed_origins,omitempty"`
	AllowedExtensions    []string `yaml:"allowed_extensions,omitempty"`
	// DataDirectory holds the orphan journal and, for the fs backend, the
	// dataset when storage.path is empty.
	DataDirectory string `yaml:"data_directory"`

	Listener ListenerConfig `yaml:"listener"`
	Storage  StorageConfig  `yaml:"storage"`
	Adapter  AdapterConfig  `yaml:"adapter"`
	Log      LogConfig      `yaml:"log"`
}

// ListenerConfig tunes the local channel.
type ListenerConfig struct {
	// Socket overrides the socket path or pipe name.
	Socket       string   `yaml:"socket"`
	DrainTimeout Duration `yaml:"drain_timeout"`
	MaxFrameSize uint32   `yaml:"max_frame_size"`
}

// StorageConfig selects where file records and metrics are persisted.
type StorageConfig struct {
	Dataset string `yaml:"dataset"`
	// Backend is "fs" or "s3".
	Backend string `yaml:"backend"`
	// Path is a directory for fs and bucket[/prefix] for s3.
	Path        string `yaml:"path"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// AdapterConfig selects the notification adapter. An empty Type disables
// notifications.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url,omitempty"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig sets the service log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML strings such as "10s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in the form UnmarshalYAML accepts.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ApplyDefaults fills every unset value. Paths beginning with "~/" are
// expanded against the home directory.
func (c *Config) ApplyDefaults() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	if c.DownloadDirectory == "" {
		c.DownloadDirectory = filepath.Join(home, "Downloads")
	}
	if c.DownloadSubdirectory == "" {
		c.DownloadSubdirectory = DefaultDownloadSubdirectory
	}
	if c.SaveFileDirectory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.SaveFileDirectory = wd
	}
	if c.DataDirectory == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDirectory = dir
	}

	c.DownloadDirectory = expandHome(c.DownloadDirectory, home)
	c.SaveFileDirectory = expandHome(c.SaveFileDirectory, home)
	c.DataDirectory = expandHome(c.DataDirectory, home)

	if c.Listener.DrainTimeout.Duration == 0 {
		c.Listener.DrainTimeout.Duration = DefaultDrainTimeout
	}
	if c.Listener.MaxFrameSize == 0 {
		c.Listener.MaxFrameSize = ipc.DefaultMaxPayloadSize
	}

	if c.Storage.Dataset == "" {
		c.Storage.Dataset = DefaultDataset
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "fs"
	}
	if c.Storage.Backend == "fs" {
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(c.DataDirectory, "lode")
		}
		c.Storage.Path = expandHome(c.Storage.Path, home)
	}

	if c.Adapter.Timeout.Duration == 0 {
		c.Adapter.Timeout.Duration = DefaultAdapterTimeout
	}
	if c.Adapter.Retries == nil {
		n := DefaultAdapterRetries
		c.Adapter.Retries = &n
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	for name, dir := range map[string]string{
		"download_directory":  c.DownloadDirectory,
		"save_file_directory": c.SaveFileDirectory,
	} {
		if dir != "" && !filepath.IsAbs(dir) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, dir))
		}
	}
	if strings.ContainsAny(c.DownloadSubdirectory, `/\`) || c.DownloadSubdirectory == ".." {
		errs = append(errs, fmt.Errorf("download_subdirectory must be a single path segment, got %q", c.DownloadSubdirectory))
	}

	switch c.Storage.Backend {
	case "", "fs":
	case "s3":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path (bucket[/prefix]) is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be fs or s3, got %q", c.Storage.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}
	if c.Listener.DrainTimeout.Duration < 0 {
		errs = append(errs, errors.New("listener.drain_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Files returns the part of the configuration served to the extension.
func (c *Config) Files() types.Config {
	return types.Config{
		DownloadDirectory:    c.DownloadDirectory,
		DownloadSubdirectory: c.DownloadSubdirectory,
		SaveFileDirectory:    c.SaveFileDirectory,
		AllowedOrigins:       append([]string(nil), c.AllowedOrigins...),
		AllowedExtensions:    append([]string(nil), c.AllowedExtensions...),
	}
}

// DefaultPath returns <user config dir>/edman/edman.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, "edman", "edman.yaml"), nil
}

// DefaultDataDir returns $XDG_DATA_HOME/edman (~/.local/share/edman) on
// Linux and <user config dir>/edman elsewhere.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "edman"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve data directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", "edman"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}
	return filepath.Join(dir, "edman"), nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}
