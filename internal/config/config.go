package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type StoreMode string

const (
	StoreModeREST   StoreMode = "rest"
	StoreModeSQLite StoreMode = "sqlite"
)

type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Copy        CopyConfig        `toml:"copy"`
	Host        HostConfig        `toml:"host"`
	Store       StoreConfig       `toml:"store"`
	Server      ServerConfig      `toml:"server"`
	Credentials CredentialsConfig `toml:"credentials"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level   string           `toml:"level"`
	DevFile DevFileLogConfig `toml:"dev_file"`
}

type DevFileLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type CopyConfig struct {
	SourceProject    string   `toml:"source_project"`
	TargetProject    string   `toml:"target_project"`
	TriggerState     string   `toml:"trigger_state"`
	ExpectedType     string   `toml:"expected_type"`
	ExcludedFields   []string `toml:"excluded_fields"`
	RequireTypeMatch bool     `toml:"require_type_match"`
}

// HostConfig describes where the tracking server is reachable.
type HostConfig struct {
	AccessPoint       string `toml:"access_point"`
	DefaultCollection string `toml:"default_collection"`
}

type StoreConfig struct {
	Mode       StoreMode `toml:"mode"`
	APIVersion string    `toml:"api_version"`
	Timeout    string    `toml:"timeout"`
	MaxRetries int       `toml:"max_retries"`
}

type ServerConfig struct {
	HTTPBind      string `toml:"http_bind"`
	APIEndpoint   string `toml:"api_endpoint"`
	MCPEndpoint   string `toml:"mcp_endpoint"`
	HookSecret    string `toml:"hook_secret"`
	HookSecretEnv string `toml:"hook_secret_env"`
}

type CredentialsConfig struct {
	KeyringService string   `toml:"keyring_service"`
	KeyringUser    string   `toml:"keyring_user"`
	TokenEnv       string   `toml:"token_env"`
	Backends       []string `toml:"backends"`
	FileDir        string   `toml:"file_dir"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileLogConfig{
				Enabled: true,
				Dir:     ".witcopier/log",
			},
		},
		Copy: CopyConfig{
			SourceProject: "Scrum",
			TargetProject: "CopyTarget",
			TriggerState:  "Removed",
			ExpectedType:  "Bug",
			ExcludedFields: []string{
				"System.AreaId",
				"System.IterationId",
				"System.AreaPath",
				"System.IterationPath",
				"System.State",
			},
			RequireTypeMatch: true,
		},
		Host: HostConfig{
			AccessPoint:       "http://localhost:8080/tfs",
			DefaultCollection: "DefaultCollection",
		},
		Store: StoreConfig{
			Mode:       StoreModeSQLite,
			APIVersion: "7.1",
			Timeout:    "30s",
			MaxRetries: 3,
		},
		Server: ServerConfig{
			HTTPBind:      "127.0.0.1:5437",
			APIEndpoint:   "/api/v1",
			MCPEndpoint:   "/mcp",
			HookSecretEnv: "WITCOPIER_HOOK_SECRET",
		},
		Credentials: CredentialsConfig{
			KeyringService: "witcopier",
			KeyringUser:    "default",
			TokenEnv:       "WITCOPIER_TOKEN",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when dev_file is enabled")
	}

	if strings.TrimSpace(c.Copy.SourceProject) == "" {
		return errors.New("copy.source_project is required")
	}
	if strings.TrimSpace(c.Copy.TargetProject) == "" {
		return errors.New("copy.target_project is required")
	}
	if strings.TrimSpace(c.Copy.TriggerState) == "" {
		return errors.New("copy.trigger_state is required")
	}
	if strings.TrimSpace(c.Copy.ExpectedType) == "" {
		return errors.New("copy.expected_type is required")
	}
	for i, ref := range c.Copy.ExcludedFields {
		if strings.TrimSpace(ref) == "" {
			return fmt.Errorf("copy.excluded_fields[%d] is empty", i)
		}
	}

	accessPoint := strings.TrimSpace(c.Host.AccessPoint)
	if accessPoint == "" {
		return errors.New("host.access_point is required")
	}
	parsed, err := url.Parse(accessPoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid host.access_point: %q", c.Host.AccessPoint)
	}
	if strings.Contains(strings.Trim(c.Host.DefaultCollection, " /"), "/") {
		return fmt.Errorf("invalid host.default_collection: %q", c.Host.DefaultCollection)
	}

	switch StoreMode(strings.TrimSpace(strings.ToLower(string(c.Store.Mode)))) {
	case StoreModeREST, StoreModeSQLite:
	default:
		return fmt.Errorf("invalid store.mode: %q", c.Store.Mode)
	}
	if _, err := c.StoreTimeout(); err != nil {
		return err
	}
	if c.Store.MaxRetries < 0 {
		return errors.New("store.max_retries must be >= 0")
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{"server.api_endpoint": c.Server.APIEndpoint, "server.mcp_endpoint": c.Server.MCPEndpoint} {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" || !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	for i, backend := range c.Credentials.Backends {
		switch strings.TrimSpace(strings.ToLower(backend)) {
		case "keychain", "secret-service", "kwallet", "wincred", "pass", "keyctl", "file":
		default:
			return fmt.Errorf("credentials.backends[%d] is unknown: %q", i, backend)
		}
	}

	return nil
}

// StoreTimeout parses store.timeout; empty means no client timeout.
func (c Config) StoreTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Store.Timeout)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid store.timeout: %q", c.Store.Timeout)
	}
	return d, nil
}

// HookSecret returns the configured hook secret, preferring the environment variable.
func (c Config) HookSecret(getenv func(string) string) string {
	if name := strings.TrimSpace(c.Server.HookSecretEnv); name != "" && getenv != nil {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Server.HookSecret)
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
