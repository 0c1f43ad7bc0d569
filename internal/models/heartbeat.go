package models

import "time"

// Heartbeat announces that a canvasser's agent is alive, with the day's tally.
type Heartbeat struct {
	CanvasserID   string     `json:"canvasser_id"`
	CanvasserName string     `json:"canvasser_name,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	Status        string     `json:"status"`
	Today         KnockStats `json:"today"`
}
