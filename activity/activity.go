// Package activity records privacy-first usage events for the interactive
// panels: chat sends, renders, failures and gate unlocks. Visitors are only
// ever stored as a salted hash.
package activity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// salt holds the per-installation random salt for visitor hashing.
var salt struct {
	once  sync.Once
	value string
}

// InitSalt loads or generates the persistent hashing salt. Call it once at
// startup before any events are recorded.
func InitSalt(store *Store) error {
	var initErr error
	salt.once.Do(func() {
		s, err := store.GetSetting("hash_salt")
		if err != nil {
			initErr = fmt.Errorf("read hash salt: %w", err)
			return
		}
		if s == "" {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				initErr = fmt.Errorf("generate salt: %w", err)
				return
			}
			s = hex.EncodeToString(b)
			if err := store.SetSetting("hash_salt", s); err != nil {
				initErr = fmt.Errorf("store hash salt: %w", err)
				return
			}
		}
		salt.value = s
	})
	return initErr
}

// Kind names an event type.
type Kind string

const (
	KindChatSent         Kind = "chat_sent"
	KindChatRateLimited  Kind = "chat_rate_limited"
	KindChatFailed       Kind = "chat_failed"
	KindImageGenerated   Kind = "image_generated"
	KindImageRateLimited Kind = "image_rate_limited"
	KindImageDenied      Kind = "image_unauthorized"
	KindImageFailed      Kind = "image_failed"
	KindGateUnlocked     Kind = "gate_unlocked"
	KindSubscribed       Kind = "subscribed"
)

// Event is one recorded panel interaction.
type Event struct {
	ID          int64     `json:"-"`
	Kind        Kind      `json:"kind"`
	VisitorHash string    `json:"-"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// KindStat is the count of one event kind.
type KindStat struct {
	Kind     Kind `json:"kind"`
	Count    int  `json:"count"`
	Visitors int  `json:"visitors"`
}

// DailyCount is the number of events on one day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats aggregates events over a period.
type Stats struct {
	From     time.Time    `json:"from"`
	To       time.Time    `json:"to"`
	Total    int          `json:"total"`
	Visitors int          `json:"visitors"`
	ByKind   []KindStat   `json:"by_kind"`
	Daily    []DailyCount `json:"daily"`
}

// HashVisitor creates a salted visitor hash from IP and User-Agent.
func HashVisitor(ip, userAgent string) string {
	h := sha256.New()
	h.Write([]byte(salt.value + ip + "|" + userAgent))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
