package kafka

import (
	"testing"
)

func TestBuildMessageKeysBySubject(t *testing.T) {
	event := NewStageEvent("subject.partitioned", "extract", "run-1", map[string]interface{}{"subject_id": int64(42)})
	msg, err := buildMessage(event)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if string(msg.Key) != "42" {
		t.Fatalf("expected subject key, got %q", msg.Key)
	}

	var runID string
	for _, h := range msg.Headers {
		if h.Key == HeaderRunID {
			runID = string(h.Value)
		}
	}
	if runID != "run-1" {
		t.Fatalf("expected run id header, got %q", runID)
	}

	decoded, err := decodeMessage(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != "subject.partitioned" {
		t.Fatalf("unexpected decoded event %+v", decoded)
	}
	if decoded.Data["subject_id"].(float64) != 42 {
		t.Fatalf("unexpected subject %v", decoded.Data["subject_id"])
	}
}

func TestBuildMessageFallsBackToEventID(t *testing.T) {
	event := NewStageEvent("cohort", "extract", "", map[string]interface{}{"stays": 3})
	msg, err := buildMessage(event)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if string(msg.Key) != event.ID {
		t.Fatalf("expected event id key, got %q", msg.Key)
	}
	if len(msg.Headers) != 2 {
		t.Fatalf("expected no run id header, got %v", msg.Headers)
	}
}
