package model

import (
	"encoding/json"
	"time"
)

// PropertyAnalysis is one estimate produced for an address.
type PropertyAnalysis struct {
	ID        string           `db:"id" json:"id"`
	UserID    *string          `db:"user_id" json:"userId,omitempty"`
	SessionID *string          `db:"session_id" json:"sessionId,omitempty"`
	Address   string           `db:"address" json:"address"`
	Result    *json.RawMessage `db:"result" json:"result,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

type CreateAnalysisParams struct {
	ID        string
	Owner     Owner
	Address   string
	Result    *json.RawMessage
	CreatedAt time.Time
}
