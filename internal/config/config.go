package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfig names the environment variable that overrides the config path.
	EnvConfig         = "LOSTCTL_CONFIG"
	DefaultConfigPath = "~/.config/lostctl/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for lostctl.
type Config struct {
	Engine     Engine     `json:"engine" yaml:"engine"`
	Databases  Databases  `json:"databases" yaml:"databases"`
	Logging    Logging    `json:"logging" yaml:"logging"`
	Processing Processing `json:"processing" yaml:"processing"`
	Storage    Storage    `json:"storage" yaml:"storage"`
	Server     Server     `json:"server" yaml:"server"`
	Watch      Watch      `json:"watch" yaml:"watch"`
}

// Engine locates the star-tracker executable and bounds its runs.
type Engine struct {
	Path           string `json:"path" yaml:"path"`         // executable; empty means "lost" on PATH
	HomeDir        string `json:"home_dir" yaml:"home_dir"` // working directory for every run
	TempRoot       string `json:"temp_root" yaml:"temp_root"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	DebugArgs      bool   `json:"debug_args" yaml:"debug_args"`
}

// Timeout returns the per-invocation limit; zero disables it.
func (e Engine) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Databases holds the per-variant database artifact paths.
type Databases struct {
	Dir   string `json:"dir" yaml:"dir"`
	Py    string `json:"py" yaml:"py"`
	Tetra string `json:"tetra" yaml:"tetra"`
}

// PyPath resolves the pyramidal database path against Dir.
func (d Databases) PyPath() string { return d.resolve(d.Py) }

// TetraPath resolves the tetra database path against Dir.
func (d Databases) TetraPath() string { return d.resolve(d.Tetra) }

func (d Databases) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || d.Dir == "" {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format     string `json:"format" yaml:"format"`           // text, json
	FileOutput bool   `json:"file_output" yaml:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir" yaml:"log_dir"`
}

// Processing captures batch execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs" yaml:"parallel_jobs"`
	Variant      string `json:"variant" yaml:"variant"` // py or tetra
	// UseMagick enables the ImageMagick decoder for RAW and FITS frames.
	UseMagick bool `json:"use_magick" yaml:"use_magick"`
}

// Storage configures the invocation history database.
type Storage struct {
	HistoryPath string `json:"history_path" yaml:"history_path"`
}

// Server configures the HTTP and gRPC listeners of "lostctl serve".
type Server struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
}

// Watch configures "lostctl watch".
type Watch struct {
	Directories []string `json:"directories" yaml:"directories"`
	Extensions  []string `json:"extensions" yaml:"extensions"`
	// SettleMillis is how long a new file must stay unchanged before it is
	// identified.
	SettleMillis int `json:"settle_ms" yaml:"settle_ms"`
}

// Path returns the config file location: $LOSTCTL_CONFIG or the default.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path. A missing file yields the defaults.
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	expanded, err := ExpandUser(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, or YAML for .yaml/.yml paths.
func Save(cfg *Config, path string) error {
	expanded, err := ExpandUser(path)
	if err != nil {
		return err
	}
	var data []byte
	switch strings.ToLower(filepath.Ext(expanded)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	return os.WriteFile(expanded, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *Config { return defaultConfig() }

func defaultConfig() *Config {
	dataDir := filepath.Join(os.TempDir(), "lostctl")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "lostctl")
	}
	return &Config{
		Engine: Engine{
			TempRoot:       filepath.Join(os.TempDir(), "lostctl"),
			TimeoutSeconds: 300,
		},
		Databases: Databases{
			Dir:   dataDir,
			Py:    "py_database.dat",
			Tetra: "tetra_database.dat",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
			LogDir: "./logs",
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			Variant:      "py",
		},
		Storage: Storage{
			HistoryPath: filepath.Join(dataDir, "history.db"),
		},
		Server: Server{
			HTTPAddr: ":8080",
			GRPCAddr: ":9090",
		},
		Watch: Watch{
			Extensions:   []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"},
			SettleMillis: 500,
		},
	}
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Engine.Path, &c.Engine.HomeDir, &c.Engine.TempRoot,
		&c.Databases.Dir, &c.Databases.Py, &c.Databases.Tetra,
		&c.Logging.LogDir, &c.Storage.HistoryPath,
	} {
		expanded, err := ExpandUser(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	for i, dir := range c.Watch.Directories {
		expanded, err := ExpandUser(dir)
		if err != nil {
			return err
		}
		c.Watch.Directories[i] = expanded
	}
	return nil
}

// ExpandUser replaces a leading ~ with the user's home directory.
func ExpandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
