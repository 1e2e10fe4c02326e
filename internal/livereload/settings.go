package livereload

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/assetflow/internal/config"
)

const (
	// DefaultHost is the loopback interface used when no host override is provided.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default TCP port for the dev proxy.
	DefaultPort = 3000
	// DefaultReadHeaderTimeout guards hung clients.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultIdleTimeout bounds keep-alive connections.
	DefaultIdleTimeout = 60 * time.Second
	// DefaultWriteWait bounds a single websocket write.
	DefaultWriteWait = 5 * time.Second
)

// Environment overrides for the proxy section.
const (
	EnvEnabled = "ASSETFLOW_PROXY_ENABLED"
	EnvHost    = "ASSETFLOW_PROXY_HOST"
	EnvPort    = "ASSETFLOW_PROXY_PORT"
	EnvTarget  = "ASSETFLOW_PROXY_TARGET"
)

// Settings captures runtime configuration for the dev proxy.
type Settings struct {
	Enabled bool
	Host    string
	Port    int
	// Target is the upstream origin (for example http://test.dev). Without
	// one the server serves Root statically.
	Target string
	// Root is the directory served when no upstream is configured.
	Root string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	WriteWait         time.Duration
}

// SettingsFromConfig builds Settings from assetflow.yaml and environment overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		Enabled:           true,
		Host:              DefaultHost,
		Port:              DefaultPort,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		WriteWait:         DefaultWriteWait,
	}
	if cfg != nil {
		raw := cfg.Project.Proxy
		settings.Enabled = raw.Enabled
		if host := strings.TrimSpace(raw.Host); host != "" {
			settings.Host = host
		}
		if isValidPort(raw.Port) {
			settings.Port = raw.Port
		}
		settings.Target = raw.Target
		if cfg.ProjectDir != "" && cfg.Dest() != "" {
			settings.Root = filepath.Join(cfg.ProjectDir, filepath.FromSlash(cfg.Dest()))
		}
	}
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

func (s *Settings) applyEnvOverrides() {
	if s == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv(EnvEnabled)); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			s.Enabled = enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		s.Host = host
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && isValidPort(parsed) {
			s.Port = parsed
		}
	}
	if target := strings.TrimSpace(os.Getenv(EnvTarget)); target != "" {
		s.Target = target
	}
}

func (s *Settings) normalize() {
	if s == nil {
		return
	}
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	if !isValidPort(s.Port) {
		s.Port = DefaultPort
	}
	s.Target = strings.TrimRight(strings.TrimSpace(s.Target), "/")
	if s.Target != "" && !strings.Contains(s.Target, "://") {
		s.Target = "http://" + s.Target
	}
	if s.ReadHeaderTimeout <= 0 {
		s.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.WriteWait <= 0 {
		s.WriteWait = DefaultWriteWait
	}
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the HTTP base URL for the server.
func (s Settings) URL() string {
	return "http://" + s.Address()
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}
