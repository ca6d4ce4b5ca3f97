package models

import "time"

// ProspectAnalysis is the cumulative trait record of one prospect.
// MetTraits only grows between AutoReset sweeps.
type ProspectAnalysis struct {
	ProspectID     string    `json:"prospect_id"`
	DisplayName    string    `json:"display_name"`
	MatchPoints    int       `json:"match_points"`
	MetTraits      []string  `json:"met_traits"`
	LastAnalyzedAt time.Time `json:"last_analyzed_at"`
	// Version is the optimistic concurrency counter; zero means "not stored yet".
	Version int64 `json:"version"`
}

// Empty reports whether the record carries no matched traits.
func (a *ProspectAnalysis) Empty() bool {
	return a.MatchPoints == 0 && len(a.MetTraits) == 0
}

// ProspectActivity tracks the last message exchanged with a prospect.
type ProspectActivity struct {
	ProspectID    string    `json:"prospect_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	LastDirection Direction `json:"last_direction"`
}

// TaskPendingReply is the "reply to me" task raised by inbound messages.
const TaskPendingReply = "pending_reply"

// TaskStatus is the state of one task for one prospect.
type TaskStatus struct {
	ProspectID      string     `json:"prospect_id"`
	TaskType        string     `json:"task_type"`
	IsCompleted     bool       `json:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastMessageType Direction  `json:"last_message_type"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
