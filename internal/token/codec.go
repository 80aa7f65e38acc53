// Package token signs and verifies the two kinds of bearer credentials used by
// streamgate: long-lived session tokens and short-lived playback tokens.
//
// Both kinds are HS256 JWTs, but each kind is signed with its own key derived
// from the server secret and carries a "kind" claim, so a token of one kind can
// never be verified as the other.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Kind discriminates the claim shapes issued by the codec.
type Kind string

const (
	KindSession  Kind = "session"
	KindPlayback Kind = "playback"
)

const (
	// MinSecretLength is the minimum accepted length of the server secret.
	MinSecretLength = 32
	// DefaultSkew is the tolerated clock drift for issued-at checks.
	DefaultSkew = 30 * time.Second
)

var (
	// ErrInvalid is returned for every token that fails verification. The
	// wrapped detail is meant for logs only.
	ErrInvalid = errors.New("token invalid")
	// ErrWeakSecret indicates the configured secret is too short.
	ErrWeakSecret = errors.New("token secret too short")
)

// SessionClaims identifies an authenticated caller.
type SessionClaims struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PlaybackClaims binds a caller to exactly one video.
type PlaybackClaims struct {
	Subject   string
	VideoID   string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	Kind    Kind   `json:"kind"`
	VideoID string `json:"vid,omitempty"`
	jwt.RegisteredClaims
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSkew sets the tolerated issued-at drift.
func WithSkew(skew time.Duration) Option {
	return func(c *Codec) {
		if skew >= 0 {
			c.skew = skew
		}
	}
}

// WithIssuer stamps and enforces the iss claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// Codec is safe for concurrent use; it holds no mutable state.
type Codec struct {
	sessionKey  []byte
	playbackKey []byte
	now         func() time.Time
	skew        time.Duration
	issuer      string
}

// NewCodec derives the per-kind signing keys from secret.
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}

	sessionKey, err := deriveKey(secret, "streamgate-session-v1")
	if err != nil {
		return nil, err
	}
	playbackKey, err := deriveKey(secret, "streamgate-playback-v1")
	if err != nil {
		return nil, err
	}

	c := &Codec{
		sessionKey:  sessionKey,
		playbackKey: playbackKey,
		now:         time.Now,
		skew:        DefaultSkew,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

// SignSession mints a session token for subject.
func (c *Codec) SignSession(subject string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("session subject must be provided")
	}
	raw, _, exp, err := c.sign(KindSession, subject, "", ttl)
	return raw, exp, err
}

// SignPlayback mints a playback token bound to (subject, videoID).
func (c *Codec) SignPlayback(subject, videoID string, ttl time.Duration) (string, PlaybackClaims, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(videoID) == "" {
		return "", PlaybackClaims{}, errors.New("playback subject and video id must be provided")
	}
	raw, iat, exp, err := c.sign(KindPlayback, subject, videoID, ttl)
	if err != nil {
		return "", PlaybackClaims{}, err
	}
	return raw, PlaybackClaims{
		Subject:   subject,
		VideoID:   videoID,
		Kind:      KindPlayback,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

func (c *Codec) sign(kind Kind, subject, videoID string, ttl time.Duration) (string, time.Time, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("%s token ttl must be positive", kind)
	}

	// NumericDate has second precision; truncate so returned claims match the token.
	iat := c.now().UTC().Truncate(time.Second)
	exp := iat.Add(ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Kind:    kind,
		VideoID: videoID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	raw, err := tok.SignedString(c.keyFor(kind))
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return raw, iat, exp, nil
}

// VerifySession validates a session token.
func (c *Codec) VerifySession(raw string) (SessionClaims, error) {
	parsed, err := c.verify(KindSession, raw)
	if err != nil {
		return SessionClaims{}, err
	}
	return SessionClaims{
		Subject:   parsed.Subject,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

// VerifyPlayback validates a playback token. Binding to a particular caller
// and video is the caller's responsibility.
func (c *Codec) VerifyPlayback(raw string) (PlaybackClaims, error) {
	parsed, err := c.verify(KindPlayback, raw)
	if err != nil {
		return PlaybackClaims{}, err
	}
	if parsed.VideoID == "" {
		return PlaybackClaims{}, fmt.Errorf("%w: missing video claim", ErrInvalid)
	}
	return PlaybackClaims{
		Subject:   parsed.Subject,
		VideoID:   parsed.VideoID,
		Kind:      parsed.Kind,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

func (c *Codec) verify(kind Kind, raw string) (*claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return c.keyFor(kind), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if parsed.Kind != kind {
		return nil, fmt.Errorf("%w: kind %q, want %q", ErrInvalid, parsed.Kind, kind)
	}
	if parsed.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalid)
	}
	if parsed.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing issued-at", ErrInvalid)
	}
	if parsed.IssuedAt.Time.After(c.now().Add(c.skew)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrInvalid)
	}
	return &parsed, nil
}

func (c *Codec) keyFor(kind Kind) []byte {
	if kind == KindPlayback {
		return c.playbackKey
	}
	return c.sessionKey
}
