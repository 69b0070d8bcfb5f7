package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate_InvalidAdminPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port negative", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Admin.Port = tt.port
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error for invalid port")
			}
		})
	}
}

func TestConfig_Validate_InvalidCacheType(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Cache.Type = "memcached"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid cache type")
	}
}

func TestConfig_Validate_UnknownRequiredPlugin(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Required = []string{"cache", "mailer"}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for unknown plugin")
	}
}

func TestConfig_Validate_MigrationNeedsChangeLog(t *testing.T) {
	cfg := Default()
	cfg.Plugins.Migration.Enable = true
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for missing change log file")
	}

	cfg.Plugins.Migration.ChangeLogFile = "changelog.yaml"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseTransportKind(t *testing.T) {
	tests := []struct {
		in   string
		want TransportKind
	}{
		{"", TransportHTTP},
		{"http", TransportHTTP},
		{"HTTP", TransportHTTP},
		{"tcp", TransportTCP},
		{" udp ", TransportUDP},
		{"quic", TransportInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseTransportKind(tt.in); got != tt.want {
				t.Errorf("ParseTransportKind(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestServerEntry_ToServerConfig_Defaults(t *testing.T) {
	sc, err := ServerEntry{Port: 8080}.ToServerConfig("api")
	if err != nil {
		t.Fatalf("ToServerConfig() error = %v", err)
	}
	if sc.Kind != TransportHTTP {
		t.Errorf("Expected HTTP, got %v", sc.Kind)
	}
	if sc.Host != DefaultServerHost {
		t.Errorf("Expected host %q, got %q", DefaultServerHost, sc.Host)
	}
	if sc.StartTimeout != DefaultStartTimeout {
		t.Errorf("Expected start timeout %v, got %v", DefaultStartTimeout, sc.StartTimeout)
	}
	if sc.Name != "api" {
		t.Errorf("Expected name api, got %q", sc.Name)
	}
}

func TestServerEntry_ToServerConfig_UDPIgnoresTLS(t *testing.T) {
	sc, err := ServerEntry{
		Type:      "udp",
		Port:      9001,
		TLSKey:    "key.pem",
		TLSCert:   "cert.pem",
		Broadcast: &BroadcastConfig{Addr: "255.255.255.255"},
	}.ToServerConfig("beacon")
	if err != nil {
		t.Fatalf("ToServerConfig() error = %v", err)
	}
	if sc.TLSKeyPath != "" || sc.TLSCertPath != "" || sc.HasTLS() {
		t.Error("Expected UDP server to drop TLS settings")
	}
	if sc.Broadcast == nil || sc.Broadcast.Port != DefaultBroadcastPort || sc.Broadcast.TTL != DefaultBroadcastTTL {
		t.Errorf("Expected broadcast defaults, got %+v", sc.Broadcast)
	}
}

func TestServerEntry_ToServerConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		entry ServerEntry
		want  error
	}{
		{"bad port", ServerEntry{Port: 70000}, ErrInvalidPort},
		{"bad timeout", ServerEntry{StartTimeout: "soon"}, ErrInvalidTimeout},
		{"negative timeout", ServerEntry{StartTimeout: "-1s"}, ErrInvalidTimeout},
		{"bad broadcast", ServerEntry{Type: "udp", Broadcast: &BroadcastConfig{Addr: "nowhere"}}, ErrInvalidBroadcast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.entry.ToServerConfig("x")
			if !errors.Is(err, tt.want) {
				t.Errorf("ToServerConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfig_ServerConfigs_SkipsUnmappable(t *testing.T) {
	cfg := Default()
	cfg.Servers["b"] = ServerEntry{Type: "tcp", Port: 9000}
	cfg.Servers["a"] = ServerEntry{Port: 8080, StartTimeout: "2s"}
	cfg.Servers["broken"] = ServerEntry{Port: -5}
	cfg.Servers["odd"] = ServerEntry{Type: "quic"}

	configs, errs := cfg.ServerConfigs()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 mapping error, got %v", errs)
	}
	var me *MappingError
	if !errors.As(errs[0], &me) || me.Name != "broken" {
		t.Errorf("Expected mapping error for broken, got %v", errs[0])
	}

	if len(configs) != 3 {
		t.Fatalf("Expected 3 configs, got %d", len(configs))
	}
	if configs[0].Name != "a" || configs[1].Name != "b" || configs[2].Name != "odd" {
		t.Errorf("Expected sorted names, got %s %s %s", configs[0].Name, configs[1].Name, configs[2].Name)
	}
	if configs[0].StartTimeout != 2*time.Second {
		t.Errorf("Expected 2s start timeout, got %v", configs[0].StartTimeout)
	}
	if configs[2].Kind != TransportInvalid {
		t.Errorf("Expected invalid transport for odd, got %v", configs[2].Kind)
	}
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		host     string
		port     int
		expected string
	}{
		{"0.0.0.0", 80, "0.0.0.0:80"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
		{"example.com", 443, "example.com:443"},
		{"::1", 8080, "[::1]:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			cfg := ServerConfig{Host: tt.host, Port: tt.port}
			if cfg.Address() != tt.expected {
				t.Errorf("Address() = %q, want %q", cfg.Address(), tt.expected)
			}
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	// Non-existent file falls back to defaults
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Servers) != 0 {
		t.Errorf("Expected no servers, got %d", len(cfg.Servers))
	}
	if cfg.Plugins.Cache.Type != "memory" {
		t.Errorf("Expected memory cache, got %q", cfg.Plugins.Cache.Type)
	}
}

func TestLoad_ValidYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
logging:
  level: debug
plugins:
  prefer_external: true
  required: [cache]
servers:
  api:
    type: http
    port: 8080
    metrics: true
    compress: 1024
  echo:
    type: tcp
    port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %q", cfg.Logging.Level)
	}
	if !cfg.Plugins.PreferExternal {
		t.Error("Expected prefer_external to be true")
	}
	if cfg.Servers["api"].Compress != 1024 || !cfg.Servers["api"].Metrics {
		t.Errorf("Unexpected api entry: %+v", cfg.Servers["api"])
	}
	if cfg.Plugins.Pool.URI != "mongodb://localhost:27017" {
		t.Errorf("Expected default pool URI to survive, got %q", cfg.Plugins.Pool.URI)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
admin:
  port: 9090
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("RSF_ADMIN_PORT", "9191")
	t.Setenv("RSF_PLUGINS_CACHE_TYPE", "redis")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Admin.Port != 9191 {
		t.Errorf("Expected admin port 9191, got %d", cfg.Admin.Port)
	}
	if cfg.Plugins.Cache.Type != "redis" {
		t.Errorf("Expected redis cache, got %q", cfg.Plugins.Cache.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	content := `
servers:
  api: [not, a, map]
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid configuration")
	}
}
