package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewUserConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkind.ini")
	t.Setenv(UserConfigEnv, path)

	cfg, err := NewUserConfig(&UserConfig{
		Api: ApiConfig{
			BaseUrl: DefaultBaseUrl,
			Tag:     "badge pickup",
		},
		Server: ServerConfig{
			Port: DefaultServerPort,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	// a blank config is written on first run
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file on disk: %v", err)
	}

	if cfg.GetBaseUrl() != DefaultBaseUrl {
		t.Fatalf("unexpected base url: %q", cfg.GetBaseUrl())
	}
	if cfg.GetServerPort() != DefaultServerPort {
		t.Fatalf("unexpected port: %d", cfg.GetServerPort())
	}
	if cfg.GetDebug() {
		t.Fatal("debug should default off")
	}
}

func TestUserConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkind.ini")
	t.Setenv(UserConfigEnv, path)

	cfg, err := NewUserConfig(&UserConfig{})
	if err != nil {
		t.Fatal(err)
	}

	cfg.SetAuthToken("deadbeef")
	cfg.Checkind.DisableBuzzer = true
	if err := cfg.SaveConfig(); err != nil {
		t.Fatal(err)
	}

	loaded, err := NewUserConfig(&UserConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if loaded.GetAuthToken() != "deadbeef" {
		t.Fatalf("unexpected token: %q", loaded.GetAuthToken())
	}
	if !loaded.GetDisableBuzzer() {
		t.Fatal("expected disable_buzzer to persist")
	}
}
