// Package config manages nfcauthd daemon configuration using koanf/v2.
//
// Supports YAML files, environment variables, and compiled-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete nfcauthd configuration.
type Config struct {
	Socket    SocketConfig    `koanf:"socket"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Security  SecurityConfig  `koanf:"security"`
	LockWatch LockWatchConfig `koanf:"lock_watch"`
	Listeners ListenersConfig `koanf:"listeners"`
}

// SocketConfig holds the client-facing Unix socket and credential file
// locations.
type SocketConfig struct {
	// Path is the filesystem path of the listening socket.
	Path string `koanf:"path"`
	// CredentialFile is the path of the JSON credential store.
	CredentialFile string `koanf:"credential_file"`
	// CredWriterPath is the path of the nfcauthd-credwriter helper binary,
	// execed under the requesting peer's own credentials to persist
	// CredentialFile. Left empty, the daemon resolves it via exec.LookPath
	// against $PATH at startup.
	CredWriterPath string `koanf:"cred_writer_path"`
	// MaxConnections caps the number of concurrently served client
	// sessions; a connection accepted past the cap is closed immediately.
	// It does not set the socket's listen backlog.
	MaxConnections int `koanf:"max_connections"`
	// MaxAuthRequestWait caps any client-specified wait duration.
	MaxAuthRequestWait time.Duration `koanf:"max_auth_request_wait"`
	// ForceCloseTimeout bounds idle Void sessions.
	ForceCloseTimeout time.Duration `koanf:"force_close_timeout"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// SecurityConfig holds the acceptor's best-effort remote-peer rejection and
// the incoming UID translation table.
type SecurityConfig struct {
	// RemoteUserParentProcessNames lists process names that, if found while
	// walking a peer's ancestry, cause the connection to be rejected.
	RemoteUserParentProcessNames []string `koanf:"remote_user_parent_process_names"`
	// UIDsTranslationTable rewrites incoming UIDs before they enter the
	// merged active set. Keys and values are both normalized UIDs.
	UIDsTranslationTable map[string]string `koanf:"uids_translation_table"`
}

// LockWatchConfig configures the optional session-lock observer described in
// the design notes: off by default, never embedded in a listener.
type LockWatchConfig struct {
	// Enabled turns the observer on. When false, no D-Bus connection is made.
	Enabled bool `koanf:"enabled"`
	// LockOnAnyChange locks the session on every ActiveSet change rather than
	// only on transitions into an empty set.
	LockOnAnyChange bool `koanf:"lock_on_any_change"`
}

// ListenersConfig holds per-backend listener configuration. Each backend's
// own wire dialect is out of scope; only the generic knobs the core contract
// depends on (enablement, poll interval, inactivity timeout) live here.
type ListenersConfig struct {
	Backends map[string]BackendConfig `koanf:"backends"`
}

// BackendConfig is the generic per-backend listener configuration, covering
// the knobs every Listener family (polled, repeating, one-shot, push,
// subprocess) shares regardless of its underlying device protocol.
type BackendConfig struct {
	// Watch enables this listener.
	Watch bool `koanf:"watch"`
	// ReadEvery is the poll interval for polled and repeating backends.
	ReadEvery time.Duration `koanf:"read_every"`
	// DevFile, Device, ServerAddress and ServerPort identify the backend
	// target; interpretation is entirely backend-specific.
	DevFile       string `koanf:"dev_file"`
	Device        string `koanf:"device"`
	ServerAddress string `koanf:"server_address"`
	ServerPort    int    `koanf:"server_port"`
	// InactiveTimeout is the debounce window for non-repeating backends:
	// a UID remains active this long after its last read.
	InactiveTimeout time.Duration `koanf:"uid_not_sent_inactive_timeout"`
	// SimulateStaysActive is the synthetic presence window applied by
	// one-shot readers (e.g. HID wedges) on every read.
	SimulateStaysActive time.Duration `koanf:"simulate_uid_stays_active"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:               "/run/nfcauthd/nfcauthd.sock",
			CredentialFile:     "/etc/nfcauthd/encruids.json",
			CredWriterPath:     "",
			MaxConnections:     32,
			MaxAuthRequestWait: 30 * time.Second,
			ForceCloseTimeout:  15 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			RemoteUserParentProcessNames: []string{"sshd", "telnetd"},
			UIDsTranslationTable:         map[string]string{},
		},
		LockWatch: LockWatchConfig{
			Enabled:         false,
			LockOnAnyChange: false,
		},
		Listeners: ListenersConfig{
			Backends: map[string]BackendConfig{
				"pcsc": {
					Watch:     false,
					ReadEvery: 200 * time.Millisecond,
				},
				"serial": {
					Watch:           false,
					ReadEvery:       200 * time.Millisecond,
					InactiveTimeout: 3 * time.Second,
				},
				"hid": {
					Watch:               false,
					SimulateStaysActive: 5 * time.Second,
				},
				"adb": {
					Watch:           false,
					ReadEvery:       500 * time.Millisecond,
					InactiveTimeout: 3 * time.Second,
				},
				"pm3": {
					Watch:           false,
					ReadEvery:       500 * time.Millisecond,
					InactiveTimeout: 3 * time.Second,
				},
				"chameleon": {
					Watch:               false,
					SimulateStaysActive: 5 * time.Second,
				},
				"ufr": {
					Watch:     false,
					ReadEvery: 200 * time.Millisecond,
				},
				"tcp": {
					Watch:           false,
					ServerPort:      4242,
					InactiveTimeout: 3 * time.Second,
				},
				"http": {
					Watch:           false,
					ServerPort:      4243,
					InactiveTimeout: 3 * time.Second,
				},
			},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for nfcauthd configuration.
// Variables are named NFCAUTHD_<section>_<key>, e.g., NFCAUTHD_SOCKET_PATH.
const envPrefix = "NFCAUTHD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NFCAUTHD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Per the design note on configuration precedence: any load or validation
// failure aborts startup; nothing is partially applied.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NFCAUTHD_SOCKET_PATH -> socket.path.
// Strips the NFCAUTHD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"socket.path":                  defaults.Socket.Path,
		"socket.credential_file":       defaults.Socket.CredentialFile,
		"socket.cred_writer_path":      defaults.Socket.CredWriterPath,
		"socket.max_connections":       defaults.Socket.MaxConnections,
		"socket.max_auth_request_wait": defaults.Socket.MaxAuthRequestWait.String(),
		"socket.force_close_timeout":   defaults.Socket.ForceCloseTimeout.String(),
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"security.remote_user_parent_process_names": defaults.Security.RemoteUserParentProcessNames,
		"lock_watch.enabled":                        defaults.LockWatch.Enabled,
		"lock_watch.lock_on_any_change":             defaults.LockWatch.LockOnAnyChange,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	for name, backend := range defaults.Listeners.Backends {
		prefix := "listeners.backends." + name + "."
		backendMap := map[string]any{
			prefix + "watch":                         backend.Watch,
			prefix + "read_every":                    backend.ReadEvery.String(),
			prefix + "uid_not_sent_inactive_timeout": backend.InactiveTimeout.String(),
			prefix + "simulate_uid_stays_active":     backend.SimulateStaysActive.String(),
			prefix + "server_port":                   backend.ServerPort,
		}
		for key, val := range backendMap {
			if err := k.Set(key, val); err != nil {
				return fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptySocketPath indicates the socket path is empty.
	ErrEmptySocketPath = errors.New("socket.path must not be empty")

	// ErrEmptyCredentialFile indicates the credential file path is empty.
	ErrEmptyCredentialFile = errors.New("socket.credential_file must not be empty")

	// ErrInvalidMaxConnections indicates a non-positive connection backlog.
	ErrInvalidMaxConnections = errors.New("socket.max_connections must be >= 1")

	// ErrInvalidMaxAuthRequestWait indicates a non-positive auth wait cap.
	ErrInvalidMaxAuthRequestWait = errors.New("socket.max_auth_request_wait must be > 0")

	// ErrInvalidForceCloseTimeout indicates a non-positive Void timeout.
	ErrInvalidForceCloseTimeout = errors.New("socket.force_close_timeout must be > 0")

	// ErrInvalidBackendReadEvery indicates a non-positive poll interval on
	// an enabled polled/repeating backend.
	ErrInvalidBackendReadEvery = errors.New("listeners.backends.*.read_every must be > 0 when watch is enabled")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Socket.Path == "" {
		return ErrEmptySocketPath
	}

	if cfg.Socket.CredentialFile == "" {
		return ErrEmptyCredentialFile
	}

	if cfg.Socket.MaxConnections < 1 {
		return ErrInvalidMaxConnections
	}

	if cfg.Socket.MaxAuthRequestWait <= 0 {
		return ErrInvalidMaxAuthRequestWait
	}

	if cfg.Socket.ForceCloseTimeout <= 0 {
		return ErrInvalidForceCloseTimeout
	}

	for name, backend := range cfg.Listeners.Backends {
		if !backend.Watch {
			continue
		}
		if pollingBackend(name) && backend.ReadEvery <= 0 {
			return fmt.Errorf("backend %q: %w", name, ErrInvalidBackendReadEvery)
		}
	}

	return nil
}

// pollingBackend reports whether a backend family is poll-driven (as
// opposed to event-driven: one-shot or push).
func pollingBackend(name string) bool {
	switch name {
	case "hid", "chameleon", "tcp", "http":
		return false
	default:
		return true
	}
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
