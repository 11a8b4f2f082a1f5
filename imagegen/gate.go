package imagegen

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrInvalidCode = errors.New("imagegen: invalid access code")

// CodeStore persists the access code for one visitor.
type CodeStore interface {
	LoadCode() (string, error)
	SaveCode(code string) error
	ClearCode() error
}

// Gate guards the image panel behind an access code. When expected is empty
// the code is not checked locally; it is forwarded to the worker, which is
// the real authority and answers 403 on mismatch.
type Gate struct {
	store    CodeStore
	expected string
}

// NewGate creates a Gate over store.
func NewGate(store CodeStore, expected string) *Gate {
	return &Gate{store: store, expected: expected}
}

// Code returns the stored code, or "" when locked.
func (g *Gate) Code() string {
	code, err := g.store.LoadCode()
	if err != nil {
		return ""
	}
	return code
}

// Unlocked reports whether a code is stored.
func (g *Gate) Unlocked() bool {
	return g.Code() != ""
}

// Unlock verifies code and persists it.
func (g *Gate) Unlock(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}
	if g.expected != "" && subtle.ConstantTimeCompare([]byte(code), []byte(g.expected)) != 1 {
		return ErrInvalidCode
	}
	return g.store.SaveCode(code)
}

// Lock forgets the stored code.
func (g *Gate) Lock() error {
	return g.store.ClearCode()
}
