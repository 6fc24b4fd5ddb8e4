package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokensDisabled — не задан MEDIA_TOKEN_SECRET, медиа-токены не выдаются.
var ErrTokensDisabled = errors.New("media tokens disabled")

// TokenIssuer mints short-lived HS256 tokens that the media server checks
// before letting a peer into a call room.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Enabled reports whether a secret is configured.
func (t *TokenIssuer) Enabled() bool { return len(t.secret) > 0 }

type mediaClaims struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Issue returns a token admitting userID into the media room for one session.
func (t *TokenIssuer) Issue(userID, roomID, sessionID string) (string, error) {
	if !t.Enabled() {
		return "", ErrTokensDisabled
	}
	now := time.Now()
	claims := mediaClaims{
		RoomID:    roomID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("media token sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a media token, returning userID, roomID and
// sessionID. Used by the media gateway side.
func (t *TokenIssuer) Verify(token string) (userID, roomID, sessionID string, err error) {
	if !t.Enabled() {
		return "", "", "", ErrTokensDisabled
	}
	claims := &mediaClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", "", "", fmt.Errorf("media token parse: %w", err)
	}
	if !parsed.Valid {
		return "", "", "", errors.New("media token invalid")
	}
	return claims.Subject, claims.RoomID, claims.SessionID, nil
}
