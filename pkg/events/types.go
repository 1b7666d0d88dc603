package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	QuestionAccepted   EventType = "question.accepted"
	QuestionSuppressed EventType = "question.suppressed"
	QuestionDropped    EventType = "question.dropped"
	RecognitionFailed  EventType = "recognition.failed"
	ProviderFailed     EventType = "provider.failed"
	AnswerDelivered    EventType = "answer.delivered"
	DisplayCleared     EventType = "display.cleared"
	BudgetReset        EventType = "budget.reset"
)

// Envelope wraps every event published to the queue.
type Envelope struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	// Source names the emitting process.
	Source string `json:"source"`
	// QuestionID ties together the events of one accepted question.
	QuestionID string          `json:"question_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// QuestionData is the payload for question.* events.
type QuestionData struct {
	Text   string `json:"text"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RecognitionFailedData is the payload for recognition.failed events.
type RecognitionFailedData struct {
	FrameSeq uint64 `json:"frame_seq"`
	TraceID  string `json:"trace_id,omitempty"`
	Error    string `json:"error"`
}

// ProviderFailedData is the payload for provider.failed events.
type ProviderFailedData struct {
	Provider string `json:"provider"`
	Cause    string `json:"cause"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error"`
}

// AnswerDeliveredData is the payload for answer.delivered events.
type AnswerDeliveredData struct {
	Question  string `json:"question"`
	Kind      string `json:"kind"`
	Answer    string `json:"answer"`
	Provider  string `json:"provider,omitempty"`
	Source    string `json:"source"`
	Degraded  string `json:"degraded,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// DisplayClearedData is the payload for display.cleared events.
type DisplayClearedData struct {
	Question string `json:"question"`
}
