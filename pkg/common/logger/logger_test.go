package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitWithOutputWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(&buf, "debug")

	WithSubject("42").WithField("stage", "validate").Debug("subject processed")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if entry["subject_id"] != "42" {
		t.Fatalf("expected subject_id field, got %v", entry)
	}
	if entry["msg"] != "subject processed" {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
}

func TestInitWithOutputUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(&buf, "chatty")
	if Log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %v", Log.GetLevel())
	}
}
