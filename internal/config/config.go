// Package config loads application configuration from environment variables,
// an optional .env file and an optional YAML file of backend settings.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/releasetracker/internal/domain/model"
)

const envPrefix = "RELEASETRACKER_"

// BackendFile holds the settings of one backend in the YAML file.
type BackendFile struct {
	Token string `yaml:"token"`
	// Instances maps self-hosted instance hosts to their token.
	Instances map[string]string `yaml:"instances"`
	// RequestsPerSecond bounds the request rate per instance (gitlab, gitea).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// CacheDir is where the git backend keeps its tag mirrors.
	CacheDir string `yaml:"cache_dir"`
}

// File is the YAML configuration file, keyed by backend name.
type File struct {
	Backends map[string]BackendFile `yaml:"backends"`
}

// Config holds the application configuration.
type Config struct {
	ListenAddr     string
	DBPath         string
	PollInterval   time.Duration
	Threads        int
	ReleaseLimit   int
	FetchTimeout   time.Duration
	ConflictPolicy model.ConflictPolicy
	Backends       []string

	GitHubToken string
	GitLabToken string
	GiteaToken  string

	// SecretKey is the 32-byte AES key for stored credentials. Nil disables
	// credential storage.
	SecretKey []byte

	ConfigFile string
	File       File

	LogLevel  string
	LogFormat string
}

// Backend returns the file settings of a backend, with the environment token
// taking precedence over the file token.
func (c *Config) Backend(name string) BackendFile {
	b := c.File.Backends[name]
	var envToken string
	switch name {
	case "github":
		envToken = c.GitHubToken
	case "gitlab":
		envToken = c.GitLabToken
	case "gitea":
		envToken = c.GiteaToken
	}
	if envToken != "" {
		b.Token = envToken
	}
	return b
}

// Enabled reports whether the named backend is switched on.
func (c *Config) Enabled(name string) bool {
	for _, b := range c.Backends {
		if b == name {
			return true
		}
	}
	return false
}

func lookup(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

func durationVar(key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", envPrefix, key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive, got %s", envPrefix, key, v)
	}
	return d, nil
}

func positiveIntVar(key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s%s must be a positive integer, got %q", envPrefix, key, v)
	}
	return n, nil
}

func stringVar(key, def string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return def
}

// Load reads a .env file from the working directory when present, then the
// RELEASETRACKER_* environment variables, then the YAML file named by
// RELEASETRACKER_CONFIG_FILE. Malformed values fail fast.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		ListenAddr:  stringVar("LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:      stringVar("DB_PATH", "releasetracker.db"),
		GitHubToken: stringVar("GITHUB_TOKEN", ""),
		GitLabToken: stringVar("GITLAB_TOKEN", ""),
		GiteaToken:  stringVar("GITEA_TOKEN", ""),
		ConfigFile:  stringVar("CONFIG_FILE", ""),
		LogLevel:    stringVar("LOG_LEVEL", "info"),
		LogFormat:   stringVar("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.PollInterval, err = durationVar("POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationVar("FETCH_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Threads, err = positiveIntVar("THREADS", 1); err != nil {
		return nil, err
	}
	if cfg.ReleaseLimit, err = positiveIntVar("RELEASE_LIMIT", 1); err != nil {
		return nil, err
	}

	cfg.ConflictPolicy = model.ConflictPolicy(stringVar("RELEASE_CONFLICT_POLICY", string(model.ConflictIgnore)))
	if !cfg.ConflictPolicy.Valid() {
		return nil, fmt.Errorf("%sRELEASE_CONFLICT_POLICY must be ignore or update, got %q", envPrefix, cfg.ConflictPolicy)
	}

	cfg.Backends = []string{"github", "gitlab", "gitea", "git"}
	if v, ok := lookup("BACKENDS"); ok {
		cfg.Backends = splitList(v)
		if len(cfg.Backends) == 0 {
			return nil, fmt.Errorf("%sBACKENDS names no backend", envPrefix)
		}
	}

	if v, ok := lookup("SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%sSECRET_KEY must be 64 hex characters (32 bytes)", envPrefix)
		}
		cfg.SecretKey = key
	}

	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// LoadFile reads the YAML backend settings from path into c.File.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	for name, b := range f.Backends {
		if b.RequestsPerSecond < 0 {
			return fmt.Errorf("config file %s: backends.%s.requests_per_second must not be negative", path, name)
		}
	}

	c.ConfigFile = path
	c.File = f
	slog.Debug("config file loaded", "path", path, "backends", len(f.Backends))
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
