// Package roomid generates and checks session ids short enough to read aloud or
// type from a projector.
package roomid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet excludes characters that are easy to confuse: 0/O and 1/I/L.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	DefaultLength = 6
	MinLength     = 4
	MaxLength     = 32
)

var ErrInvalid = errors.New("invalid room id")

// New returns a random id of DefaultLength characters.
func New() (string, error) {
	return NewLength(DefaultLength)
}

// NewLength returns a random id of n characters.
func NewLength(n int) (string, error) {
	if n < MinLength || n > MaxLength {
		return "", fmt.Errorf("%w: length %d out of range", ErrInvalid, n)
	}
	max := big.NewInt(int64(len(Alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		b.WriteByte(Alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Normalize upper-cases s and strips spaces and dashes people add when copying
// an id by hand.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
}

// Validate checks a normalized id.
func Validate(id string) error {
	if len(id) < MinLength || len(id) > MaxLength {
		return fmt.Errorf("%w: %q must be %d-%d characters", ErrInvalid, id, MinLength, MaxLength)
	}
	for _, r := range id {
		if !strings.ContainsRune(Alphabet, r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalid, id, r)
		}
	}
	return nil
}

// Parse normalizes and validates user input.
func Parse(s string) (string, error) {
	id := Normalize(s)
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}
