// Package kidsession issues and verifies the stateless kid session token.
//
// A token has the shape
//
//	base64url(payload).hex(hmac-sha256(payload, secret))
//
// where payload is the JSON encoded [model.KidSession]. Nothing is stored
// server side: validity is recomputed from the token and the shared secret.
package kidsession

import (
	_ "crypto/sha256" // registers crypto.SHA256 for HS256
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	errMalformed  = errors.New("malformed token")
	errSignature  = errors.New("signature mismatch")
	errPayload    = errors.New("invalid payload")
	errExpired    = errors.New("token expired")
	errAudience   = errors.New("not a kid session")
	errEmptyChild = errors.New("child id is empty")
	errInvalidTTL = errors.New("ttl must be positive")
)

var signingMethod = jwt.SigningMethodHS256

// Result is the outcome of a verification. ChildID is only set when Valid.
type Result struct {
	Valid   bool
	ChildID string
}

type Authenticator struct {
	secret           []byte
	clock            clockwork.Clock
	log              *zap.Logger
	logVerifications bool
}

type Params struct {
	fx.In

	Config *config.Config
	Clock  clockwork.Clock
	Log    *zap.Logger
}

func New(p Params) (*Authenticator, error) {
	if p.Config.UsesFallbackSecret() && p.Config.IsProduction() {
		p.Log.Warn("KID_SESSION_SECRET is not set, kid sessions are signed with the public fallback secret")
	}

	return newAuthenticator(p.Config.KidSessionSecret(), p.Clock, p.Log, p.Config.KidSession.LogVerifications), nil
}

func newAuthenticator(secret []byte, clock clockwork.Clock, log *zap.Logger, logVerifications bool) *Authenticator {
	return &Authenticator{
		secret:           secret,
		clock:            clock,
		log:              log,
		logVerifications: logVerifications,
	}
}

// Verify checks a raw cookie value. It never panics and never errors; every
// failure is reported as an invalid Result.
func (a *Authenticator) Verify(cookieValue string) Result {
	session, err := a.verify(cookieValue)
	if a.logVerifications {
		a.logAttempt(cookieValue, session, err)
	}
	if err != nil {
		return Result{}
	}

	return Result{Valid: true, ChildID: session.ChildID}
}

func (a *Authenticator) verify(value string) (*model.KidSession, error) {
	encoded, signature, ok := segments(value)
	if !ok {
		return nil, errMalformed
	}

	payload, err := decodeSegment(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	if err := a.checkSignature(payload, signature); err != nil {
		return nil, err
	}

	session, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPayload, err)
	}

	if session.ExpiresAt <= a.clock.Now().UnixMilli() {
		return session, errExpired
	}

	if !session.IsKidSession {
		return session, errAudience
	}

	return session, nil
}

// checkSignature requires the lowercase hex of exactly the expected MAC.
func (a *Authenticator) checkSignature(payload []byte, signature string) error {
	sig, err := hex.DecodeString(signature)
	if err != nil || hex.EncodeToString(sig) != signature {
		return errSignature
	}

	// Verify compares with hmac.Equal
	if err := signingMethod.Verify(string(payload), sig, a.secret); err != nil {
		return fmt.Errorf("%w: %v", errSignature, err)
	}

	return nil
}

// Issue signs a new kid session for childID that expires after ttl.
func (a *Authenticator) Issue(childID string, ttl time.Duration) (string, *model.KidSession, error) {
	if childID == "" {
		return "", nil, errEmptyChild
	}
	if ttl <= 0 {
		return "", nil, errInvalidTTL
	}

	now := a.clock.Now()
	session := &model.KidSession{
		ChildID:      childID,
		IsKidSession: true,
		ExpiresAt:    now.Add(ttl).UnixMilli(),
		IssuedAt:     now.UnixMilli(),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return "", nil, err
	}

	sig, err := signingMethod.Sign(string(payload), a.secret)
	if err != nil {
		return "", nil, err
	}

	return base64.RawURLEncoding.EncodeToString(payload) + "." + hex.EncodeToString(sig), session, nil
}

// segments returns the first two '.' separated parts of a token. Anything
// after a second '.' is ignored.
func segments(value string) (string, string, bool) {
	parts := strings.Split(value, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// decodeSegment accepts base64url with or without '=' padding. Non-zero
// trailing bits are rejected so every encoding decodes to distinct bytes.
func decodeSegment(s string) ([]byte, error) {
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return base64.URLEncoding.Strict().DecodeString(s)
}

// decodePayload reads the session fields by their exact key. Keys that only
// differ in case are ignored, where encoding/json would fold them.
func decodePayload(payload []byte) (*model.KidSession, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}

	session := &model.KidSession{}
	for key, dst := range map[string]any{
		"childId":      &session.ChildID,
		"isKidSession": &session.IsKidSession,
		"expiresAt":    &session.ExpiresAt,
		"issuedAt":     &session.IssuedAt,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	return session, nil
}

func (a *Authenticator) logAttempt(value string, session *model.KidSession, err error) {
	_, signature, _ := segments(value)
	if len(signature) > 8 {
		signature = signature[:8]
	}

	fields := []zap.Field{
		zap.Bool("valid", err == nil),
		zap.String("signature_prefix", signature),
	}
	if session != nil {
		fields = append(fields,
			zap.String("child_id", session.ChildID),
			zap.Int64("expires_at", session.ExpiresAt),
		)
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	a.log.Debug("kid session verification", fields...)
}
