package models

import "time"

// Direction records which side authored a message.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionSent || d == DirectionReceived
}

// InboundMessage is what the webhook receiver hands to the inbox.
type InboundMessage struct {
	// MessageID is the upstream message id. Redeliveries of the same id are
	// ignored; when empty a fresh id is generated.
	MessageID   string    `json:"message_id,omitempty"`
	ProspectID  string    `json:"prospect_id"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	Direction   Direction `json:"direction"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Message is a persisted entry of the conversation log.
type Message struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id"`
	Content    string    `json:"content"`
	Direction  Direction `json:"direction"`
	MetTraits  []string  `json:"met_traits"`
	CreatedAt  time.Time `json:"created_at"`
}

// Strategy names the classifier variant that produced a result.
type Strategy string

const (
	StrategyKeyword Strategy = "keyword"
	StrategyLLM     Strategy = "llm"
)

// Classification represents the result of analysing one message.
type Classification struct {
	MatchPoints int      `json:"match_points"`
	MetTraits   []string `json:"met_traits"`
	Strategy    Strategy `json:"strategy"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// ResetStats is the dry-run view of an AutoReset sweep.
type ResetStats struct {
	InactiveCount  int       `json:"inactive_count"`
	CutoffTime     time.Time `json:"cutoff_time"`
	ThresholdHours int       `json:"threshold_hours"`
}
