package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := Parse([]byte("logging:\n  env: dev\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Storage.Driver != DriverMemory {
		t.Fatalf("defaults: %+v %+v", cfg.HTTP, cfg.Storage)
	}
	if cfg.Chat.HistoryLimit != 50 || cfg.Chat.LookupTimeout != 5*time.Second || cfg.Chat.MaxMessageLength != 4000 {
		t.Fatalf("chat defaults: %+v", cfg.Chat)
	}
	if !cfg.Security.JWT.Ephemeral() || cfg.Security.JWT.Issuer != "aidchat" {
		t.Fatalf("jwt defaults: %+v", cfg.Security.JWT)
	}
	if !cfg.Geocoding.Enabled() || cfg.Geocoding.Provider != GeocoderZippopotam || cfg.Geocoding.Timeout != 5*time.Second {
		t.Fatalf("geocoding defaults: %+v", cfg.Geocoding)
	}
}

func TestParse_HistoryLimitCapped(t *testing.T) {
	cfg, err := Parse([]byte("chat:\n  historyLimit: 500\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.HistoryLimit != 50 {
		t.Fatalf("historyLimit = %d", cfg.Chat.HistoryLimit)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad driver", "storage:\n  driver: redis\n", "storage.driver"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "dsn is required"},
		{"half key pair", "security:\n  jwt:\n    privateKeyPath: a.pem\n", "set together"},
		{"ephemeral keys in prod", "logging:\n  env: prod\n", "required outside dev"},
		{"short password policy", "security:\n  password:\n    minLength: 3\n", "minLength"},
		{"admin without email", "admin:\n  username: root\n", "admin.email"},
		{"unknown geocoder", "geocoding:\n  provider: google\n", "geocoding.provider"},
	}
	t.Setenv("APP_ENV", "")
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err = %v, want containing %q", err, c.want)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":9000\"\nadmin:\n  username: root\n  email: root@example.org\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("AIDCHAT_HTTP_ADDR", ":7000")
	t.Setenv("AIDCHAT_ADMIN_PASSWORD", "from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":7000" || cfg.Admin.Password != "from-env" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.HTTP, cfg.Admin)
	}
}
