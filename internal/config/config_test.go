package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://agents.local:8000/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BackendURL != "http://agents.local:8000" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.Promote.MinLines != 3 || cfg.Promote.MinChars != 100 || cfg.Promote.Heading != "📚 Respuesta" {
		t.Errorf("Promote = %+v", cfg.Promote)
	}
	if cfg.BackendTimeout != 60*time.Second || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("timeout/level = %v/%v", cfg.BackendTimeout, cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_TIMEOUT", "15")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("PROMOTE_MIN_LINES", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.BackendTimeout != 15*time.Second {
		t.Errorf("BackendTimeout = %v", cfg.BackendTimeout)
	}
	if cfg.RateLimit.Window != 30*time.Second || cfg.Promote.MinLines != 5 {
		t.Errorf("overrides not applied: %+v %+v", cfg.RateLimit, cfg.Promote)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.ConversationLog.Enabled {
		t.Errorf("level/log = %v/%v", cfg.LogLevel, cfg.ConversationLog.Enabled)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"relative backend", map[string]string{"BACKEND_URL": "agents"}},
		{"zero lines", map[string]string{"PROMOTE_MIN_LINES": "0"}},
		{"negative history", map[string]string{"HISTORY_CONTEXT_SIZE": "-1"}},
		{"zero rate", map[string]string{"RATE_LIMIT_REQUESTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %v", tt.env)
			}
		})
	}
}
