package types

import "time"

// ProfileAttribute is a single key/value fact about the user, e.g.
// key="occupation", value="teacher". Keys are unique; writes upsert.
type ProfileAttribute struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
