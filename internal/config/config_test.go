package config_test

import (
	"os"
	"strings"
	"testing"

	"github.com/tripwire/gtpbridge/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
username: gobot
apikey: secret123
bot_command: ["gnugo", "--mode", "gtp"]
server_url: "wss://online-go.com/socket.io/?EIO=4"
api_base_url: "https://online-go.com/api/v1"
allowed_board_sizes: square
allowed_time_control_systems: ["fischer", "byoyomi"]
allowed_live_settings:
  allowed: true
  concurrent_games: 1
  per_move_time_range: [10, 60]
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Username != "gobot" {
		t.Errorf("Username = %q", cfg.Username)
	}
	if cfg.AllowedBoardSizes.Mode != "square" {
		t.Errorf("AllowedBoardSizes.Mode = %q", cfg.AllowedBoardSizes.Mode)
	}
	if cfg.AdminHTTPAddr != "127.0.0.1:9000" {
		t.Errorf("default AdminHTTPAddr = %q", cfg.AdminHTTPAddr)
	}
	if cfg.PoolSize != 1 {
		t.Errorf("default PoolSize = %d, want 1", cfg.PoolSize)
	}
}

func TestLoadBoardSizesList(t *testing.T) {
	yaml := validYAML + "\n" // base has square; override below
	yaml = strings.Replace(yaml, "allowed_board_sizes: square", "allowed_board_sizes: [9, 13, 19]", 1)
	path := writeTemp(t, yaml)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AllowedBoardSizes.Mode != "list" {
		t.Fatalf("Mode = %q, want list", cfg.AllowedBoardSizes.Mode)
	}
	if len(cfg.AllowedBoardSizes.Sizes) != 3 || cfg.AllowedBoardSizes.Sizes[2] != 19 {
		t.Errorf("Sizes = %v", cfg.AllowedBoardSizes.Sizes)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	path := writeTemp(t, "username: gobot\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"apikey", "bot_command", "server_url", "api_base_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing mention of %q", err, want)
		}
	}
}

func TestLoadUnknownFieldRejected(t *testing.T) {
	path := writeTemp(t, validYAML+"\nnot_a_real_field: true\n")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadInvalidTimeControlSystem(t *testing.T) {
	yaml := strings.Replace(validYAML, `["fischer", "byoyomi"]`, `["not_a_system"]`, 1)
	path := writeTemp(t, yaml)
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "not_a_system") {
		t.Fatalf("expected error mentioning not_a_system, got %v", err)
	}
}

func TestLoadSpeedSettingsRequireConcurrentGamesWhenAllowed(t *testing.T) {
	yaml := strings.Replace(validYAML, "concurrent_games: 1", "concurrent_games: 0", 1)
	path := writeTemp(t, yaml)
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "concurrent_games") {
		t.Fatalf("expected concurrent_games error, got %v", err)
	}
}
