package pipeline

import "context"

const (
	EventCohortBuilt        = "cohort.built"
	EventDiagnosesWritten   = "diagnoses.written"
	EventEventsPartitioned  = "events.partitioned"
	EventSubjectPartitioned = "subject.partitioned"
	EventSubjectValidated   = "subject.validated"
)

// Publisher announces completed stages. The kafka producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType, runID string, data map[string]interface{}) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, map[string]interface{}) error {
	return nil
}

func NopPublisher() Publisher {
	return nopPublisher{}
}
