package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "keyserver",
				Password: "secret",
				Name:     "keyserver",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=keyserver password=secret dbname=keyserver sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "keyserver",
			User: "keyserver",
		},
		Keys: KeysConfig{
			DefaultValidity: 8760 * time.Hour,
			MaxImportBytes:  1 << 20,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate_MinimalConfig(t *testing.T) {
	if err := minimalValidConfig().Validate(); err != nil {
		t.Errorf("minimal config should validate, got %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := minimalValidConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should be rejected", port)
		}
	}
}

func TestValidate_MissingDatabaseFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Database.Host = "" }},
		{"missing name", func(c *Config) { c.Database.Name = "" }},
		{"missing user", func(c *Config) { c.Database.User = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidate_PassphraseNeedsSalt(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.SecretStore.Passphrase = "passphrase"
	cfg.SecretStore.Salt = "short"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "salt") {
		t.Errorf("expected salt validation error, got %v", err)
	}

	cfg.SecretStore.Salt = "0123456789abcdef"
	if err := cfg.Validate(); err != nil {
		t.Errorf("16-byte salt should validate, got %v", err)
	}
}

func TestValidate_Keys(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Keys.DefaultValidity = -time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("negative default validity should be rejected")
	}

	cfg = minimalValidConfig()
	cfg.Keys.MaxImportBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max import size should be rejected")
	}
}

func TestValidate_TLSRequiresFiles(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Security.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("TLS without cert/key files should be rejected")
	}

	cfg.Security.TLS.CertFile = "/etc/tls/cert.pem"
	cfg.Security.TLS.KeyFile = "/etc/tls/key.pem"
	if err := cfg.Validate(); err != nil {
		t.Errorf("TLS with files should validate, got %v", err)
	}
}

func TestValidate_LoggingLevel(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown logging level should be rejected")
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port default = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("database.ssl_mode default = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Keys.DefaultValidity != 8760*time.Hour {
		t.Errorf("keys.default_validity default = %v, want one year", cfg.Keys.DefaultValidity)
	}
	if cfg.SecretStore.Iterations != 100000 {
		t.Errorf("secret_store.iterations default = %d, want 100000", cfg.SecretStore.Iterations)
	}
	if cfg.Telemetry.Metrics.PrometheusPort != 9090 {
		t.Errorf("prometheus port default = %d, want 9090", cfg.Telemetry.Metrics.PrometheusPort)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("KSV_DATABASE_HOST", "db.internal")
	t.Setenv("KSV_SERVER_PORT", "9999")
	t.Setenv("KSV_KEYS_DEFAULT_VALIDITY", "720h")

	cfg, err := Load(writeConfigFile(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want env override db.internal", cfg.Database.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Keys.DefaultValidity != 720*time.Hour {
		t.Errorf("keys.default_validity = %v, want 720h", cfg.Keys.DefaultValidity)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	yaml := strings.Join([]string{
		"server:",
		"  port: 8443",
		"database:",
		"  host: pg.example.com",
		"logging:",
		"  level: debug",
	}, "\n") + "\n"

	cfg, err := Load(writeConfigFile(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("server.port = %d, want 8443 from file", cfg.Server.Port)
	}
	if cfg.Database.Host != "pg.example.com" {
		t.Errorf("database.host = %q, want pg.example.com", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
