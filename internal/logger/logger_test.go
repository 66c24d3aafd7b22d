package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, "debug", false), "session")
	log.Info().Str("session_id", "s1").Msg("connected")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "session" || line["session_id"] != "s1" || line["message"] != "connected" {
		t.Errorf("unexpected fields %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("WARNING") != zerolog.WarnLevel {
		t.Errorf("warning should map to warn")
	}
	if ParseLevel("") != zerolog.InfoLevel {
		t.Errorf("empty should default to info")
	}
}
