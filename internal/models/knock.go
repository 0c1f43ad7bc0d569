package models

import (
	"fmt"
	"time"
)

// Outcome is the result of a door knock.
type Outcome string

const (
	OutcomeNotHome       Outcome = "not_home"
	OutcomeNotInterested Outcome = "not_interested"
	OutcomeSignedUp      Outcome = "signed_up"
	OutcomeDoesntQualify Outcome = "doesnt_qualify"
	OutcomeWrongAddress  Outcome = "wrong_address"
	OutcomeCallback      Outcome = "callback"
)

// Outcomes lists every outcome in display order.
var Outcomes = []Outcome{
	OutcomeNotHome,
	OutcomeNotInterested,
	OutcomeSignedUp,
	OutcomeDoesntQualify,
	OutcomeWrongAddress,
	OutcomeCallback,
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// ParseOutcome validates a raw outcome string.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown knock outcome %q", s)
	}
	return o, nil
}

// Knock is one logged door knock.
type Knock struct {
	ID            string    `json:"id"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Accuracy      float64   `json:"accuracy"`
	Address       string    `json:"address,omitempty"`
	Outcome       Outcome   `json:"result"`
	Notes         string    `json:"notes,omitempty"`
	CanvasserID   string    `json:"canvasser_id"`
	CanvasserName string    `json:"canvasser_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewKnock carries the fields supplied when a knock is created.
type NewKnock struct {
	Lat           float64
	Lng           float64
	Accuracy      float64
	Address       string
	Outcome       Outcome
	Notes         string
	CanvasserID   string
	CanvasserName string
}

// KnockUpdate holds the editable fields; nil leaves a field unchanged.
type KnockUpdate struct {
	Outcome *Outcome `json:"result,omitempty"`
	Notes   *string  `json:"notes,omitempty"`
	Address *string  `json:"address,omitempty"`
}

// KnockEventType is the kind of change a KnockEvent describes.
type KnockEventType string

const (
	KnockInserted KnockEventType = "insert"
	KnockUpdated  KnockEventType = "update"
	KnockDeleted  KnockEventType = "delete"
)

// KnockEvent is fanned out to subscribers whenever the store changes.
type KnockEvent struct {
	Type  KnockEventType `json:"type"`
	Knock Knock          `json:"knock"`
	At    time.Time      `json:"at"`
}

// Bounds is a latitude/longitude box, inclusive on every edge.
type Bounds struct {
	MinLat float64 `json:"min_lat" form:"min_lat"`
	MaxLat float64 `json:"max_lat" form:"max_lat"`
	MinLng float64 `json:"min_lng" form:"min_lng"`
	MaxLng float64 `json:"max_lng" form:"max_lng"`
}

// Contains reports whether the point lies inside the box.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Validate checks the box is well ordered and on the globe.
func (b Bounds) Validate() error {
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return fmt.Errorf("bounds min exceeds max: %+v", b)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLng < -180 || b.MaxLng > 180 {
		return fmt.Errorf("bounds out of range: %+v", b)
	}
	return nil
}

// KnockStats counts knocks per outcome over a time range.
type KnockStats struct {
	Total         int `json:"total"`
	SignedUp      int `json:"signed_up"`
	NotHome       int `json:"not_home"`
	NotInterested int `json:"not_interested"`
	Callbacks     int `json:"callbacks"`
	DoesntQualify int `json:"doesnt_qualify"`
	WrongAddress  int `json:"wrong_address"`
}

// Add counts one knock with the given outcome.
func (s *KnockStats) Add(o Outcome) {
	s.Total++
	switch o {
	case OutcomeSignedUp:
		s.SignedUp++
	case OutcomeNotHome:
		s.NotHome++
	case OutcomeNotInterested:
		s.NotInterested++
	case OutcomeCallback:
		s.Callbacks++
	case OutcomeDoesntQualify:
		s.DoesntQualify++
	case OutcomeWrongAddress:
		s.WrongAddress++
	}
}
