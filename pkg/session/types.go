package session

import "time"

// Session binds an analyzed turn to a later execute call. It holds the
// generated SQL awaiting user approval and is consumed exactly once.
type Session struct {
	ID        string    `json:"id"`
	Utterance string    `json:"utterance"`
	Intent    string    `json:"intent"`
	Plan      []string  `json:"plan,omitempty"`
	SQL       string    `json:"sql"`
	CreatedAt time.Time `json:"created_at"`
}
