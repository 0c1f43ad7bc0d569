package models

import (
	"time"
)

// LiveLocation is the message published while a rep is being tracked on the map.
type LiveLocation struct {
	CanvasserID string    `json:"canvasser_id"`
	Timestamp   time.Time `json:"timestamp"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    float64   `json:"accuracy"`
	Rating      string    `json:"rating"`
	Heading     *float64  `json:"heading,omitempty"`
	Speed       *float64  `json:"speed,omitempty"`
}
