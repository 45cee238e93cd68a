package obs

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLogRequestStampsServiceName(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogRequest(map[string]any{"msg": "hello"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["service"] != serviceName {
		t.Fatalf("unexpected service tag: %v", entry["service"])
	}
	if entry["msg"] != "hello" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
}

func TestLogRequestKeepsExplicitServiceName(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	LogRequest(map[string]any{"service": "other", "msg": "hello"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["service"] != "other" {
		t.Fatalf("explicit service tag overwritten: %v", entry["service"])
	}
}
