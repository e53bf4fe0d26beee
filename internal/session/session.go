// Package session models the patron API session as an explicit value.
// Every transition returns a new Session; nothing is kept in package state.
package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// State is the lifecycle position of a session.
type State int

const (
	Anonymous State = iota
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session holds a bearer token and its validity window.
type Session struct {
	Token     string
	PatronID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// New returns an anonymous session.
func New() Session {
	return Session{}
}

// SignedIn returns the session after a successful token fetch. The expiry is
// taken from the token's exp claim when the token is a JWT, otherwise it is
// now+fallbackTTL.
func (s Session) SignedIn(token string, now time.Time, fallbackTTL time.Duration) Session {
	next := Session{
		Token:     token,
		PatronID:  s.PatronID,
		IssuedAt:  now,
		ExpiresAt: now.Add(fallbackTTL),
	}
	if claims, err := Claims(token); err == nil {
		if exp := claims.Get("exp"); exp.Exists() && exp.Int() > 0 {
			next.ExpiresAt = time.Unix(exp.Int(), 0)
		}
		if iat := claims.Get("iat"); iat.Exists() && iat.Int() > 0 {
			next.IssuedAt = time.Unix(iat.Int(), 0)
		}
		if pid := claims.Get("patronId"); pid.Exists() && next.PatronID == "" {
			next.PatronID = pid.String()
		}
	}
	return next
}

// WithPatron returns the session bound to a patron ID.
func (s Session) WithPatron(patronID string) Session {
	s.PatronID = patronID
	return s
}

// SignedOut drops the token.
func (s Session) SignedOut() Session {
	return Session{PatronID: s.PatronID}
}

// State reports where the session is in its lifecycle at now.
func (s Session) State(now time.Time) State {
	switch {
	case s.Token == "":
		return Anonymous
	case !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt):
		return Expired
	default:
		return Active
	}
}

// Expired reports whether the token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return s.State(now) == Expired
}

// NeedsRefresh reports whether a new token should be fetched before use:
// no token, expired, or expiring within skew.
func (s Session) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if s.State(now) != Active {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Add(skew).Before(s.ExpiresAt)
}

// Remaining returns the time left before expiry, zero if expired or unknown.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.State(now) != Active || s.ExpiresAt.IsZero() {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// Renew returns s unchanged while it stays valid beyond skew. Otherwise it
// signs in again through login and keeps the patron binding. A failed login
// leaves the session signed out.
func (s Session) Renew(now time.Time, skew time.Duration, login func() (Session, error)) (Session, error) {
	if !s.NeedsRefresh(now, skew) {
		return s, nil
	}
	next, err := login()
	if err != nil {
		return s.SignedOut(), err
	}
	if next.PatronID == "" {
		next = next.WithPatron(s.PatronID)
	}
	return next, nil
}

// Claims decodes the payload segment of a JWT without verifying the
// signature. It is used to log what the license service was told, never to
// make trust decisions.
func Claims(token string) (gjson.Result, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return gjson.Result{}, fmt.Errorf("not a JWT: %d segments", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("decoding JWT payload: %w", err)
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("JWT payload is not JSON")
	}
	return gjson.ParseBytes(payload), nil
}
