package agreement

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength   = 32

	// SigningWindow is fixed at creation and never recomputed.
	SigningWindow = 30 * 24 * time.Hour
)

// TokenIssuer produces the per-agreement signing token and its expiry.
// Randomness and clock are injected so issuance is deterministic under test.
type TokenIssuer struct {
	randRead func(b []byte) (int, error)
	now      func() time.Time
}

func NewTokenIssuer() *TokenIssuer {
	return &TokenIssuer{
		randRead: rand.Read,
		now:      time.Now,
	}
}

func (t *TokenIssuer) WithRand(read func(b []byte) (int, error)) *TokenIssuer {
	t.randRead = read
	return t
}

func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// Issue returns a fresh 32-character token over the 62-symbol alphabet and
// the expiry timestamp, exactly 30 days after the injected clock's now.
func (t *TokenIssuer) Issue() (string, time.Time, error) {
	token := make([]byte, 0, tokenLength)
	buf := make([]byte, tokenLength)

	// Rejection sampling keeps the 62-symbol distribution uniform:
	// 248 is the largest multiple of 62 below 256.
	for len(token) < tokenLength {
		if _, err := t.randRead(buf); err != nil {
			return "", time.Time{}, fmt.Errorf("agreement: read token randomness: %w", err)
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			token = append(token, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(token) == tokenLength {
				break
			}
		}
	}

	return string(token), t.now().Add(SigningWindow), nil
}

// ValidToken reports whether s has the shape of an issued signing token.
func ValidToken(s string) bool {
	if len(s) != tokenLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
