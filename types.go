package aether

import "time"

// StoredImage is one rendered image kept for a visitor's history.
type StoredImage struct {
	ID          string
	SessionID   string
	Prompt      string
	ParamsJSON  string
	ContentType string
	Data        []byte
	Thumb       []byte
	CreatedAt   time.Time
}

// Subscriber is a newsletter sign-up.
type Subscriber struct {
	Email     string
	CreatedAt time.Time
}
