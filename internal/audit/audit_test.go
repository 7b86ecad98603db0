package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "azure"); got != "azure" {
		t.Errorf("expected 'azure', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.ragent/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.ragent/config.yaml" {
			t.Errorf("expected '~/.ragent/config.yaml', got %q", got)
		}
	}
}

func TestSanitiseKey_UnlistedSecretSuffix(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("SOME_VENDOR_API_KEY", "abc"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("RERANKER_API_KEY", "rk-very-secret")
	t.Setenv("MODEL_PROVIDER", "ollama")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(t.Context(), log, "ask", "")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["command"] != "ask" {
		t.Errorf("command: got %v", entry["command"])
	}
	if entry["config_file"] != "none" {
		t.Errorf("config_file: got %v", entry["config_file"])
	}
	if entry["RERANKER_API_KEY"] != "set" {
		t.Errorf("RERANKER_API_KEY: got %v", entry["RERANKER_API_KEY"])
	}
	if entry["MODEL_PROVIDER"] != "ollama" {
		t.Errorf("MODEL_PROVIDER: got %v", entry["MODEL_PROVIDER"])
	}
	if bytes.Contains(buf.Bytes(), []byte("rk-very-secret")) {
		t.Error("secret value leaked into the audit log")
	}
}
