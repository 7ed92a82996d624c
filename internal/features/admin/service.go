// Package admin — service.go holds admin authentication: the ADMIN_IDS
// check, argon2id password login with brute-force lockout and sessions.
package admin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/argon2"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/store"
)

const (
	// MaxFailedAttempts within LockWindow lock the login.
	MaxFailedAttempts = 3
	// LockWindow is how far back failed attempts are counted.
	LockWindow = time.Hour
)

// Argon2id parameters used by HashPassword.
const (
	argonMemory      uint32 = 64 * 1024
	argonIterations  uint32 = 3
	argonParallelism uint8  = 2
	argonKeyLength   uint32 = 32
	argonSaltLength         = 16
)

// Service decides who may use the admin panel.
type Service struct {
	repo         *Repository
	isAdmin      func(int64) bool
	passwordHash string
	sessionTTL   time.Duration
	now          func() time.Time
}

// NewService creates the admin service. With an empty passwordHash every
// id accepted by isAdmin is authorized without logging in.
func NewService(repo *Repository, isAdmin func(int64) bool, passwordHash string, sessionTTL time.Duration) *Service {
	return &Service{
		repo:         repo,
		isAdmin:      isAdmin,
		passwordHash: passwordHash,
		sessionTTL:   sessionTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// IsAdmin reports whether userID is listed as an admin.
func (s *Service) IsAdmin(userID int64) bool { return s.isAdmin(userID) }

// PasswordRequired reports whether admins must log in.
func (s *Service) PasswordRequired() bool { return s.passwordHash != "" }

// Authorize returns nil when userID may use the panel right now.
func (s *Service) Authorize(ctx context.Context, userID int64) error {
	if !s.isAdmin(userID) {
		return common.ErrNotAdmin
	}
	if !s.PasswordRequired() {
		return nil
	}
	if !s.HasActiveSession(ctx, userID) {
		return common.ErrSessionExpired
	}
	if err := s.repo.UpdateActivity(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("admin activity update failed")
	}
	return nil
}

// Login checks the password with argon2id and opens a session.
// MaxFailedAttempts failures within LockWindow lock further attempts.
func (s *Service) Login(ctx context.Context, userID int64, password string) error {
	if !s.isAdmin(userID) {
		return common.ErrNotAdmin
	}
	if !s.PasswordRequired() {
		return nil
	}

	now := s.now()
	failures, err := s.repo.RecentFailures(ctx, userID, now.Add(-LockWindow))
	if err != nil {
		return err
	}
	if failures >= MaxFailedAttempts {
		return common.ErrTooManyAttempts
	}

	if !verifyArgon2id(password, s.passwordHash) {
		if err := s.repo.LogFailure(ctx, userID, now, LockWindow); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("failed to record admin login attempt")
		}
		log.WithField("user_id", userID).Warn("Admin login failed")
		return common.ErrWrongPassword
	}

	session := &Session{
		UserID:          userID,
		Token:           generateSecureToken(),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.sessionTTL),
		LastActivity:    now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return err
	}
	if err := s.repo.ClearFailures(ctx, userID); err != nil {
		log.WithError(err).WithField("user_id", userID).Debug("failed to reset admin login attempts")
	}

	log.WithField("user_id", userID).Info("Admin logged in")
	return nil
}

// Logout ends the admin session.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.repo.DeleteSession(ctx, userID)
}

// HasActiveSession reports whether userID has an unexpired session.
func (s *Service) HasActiveSession(ctx context.Context, userID int64) bool {
	session, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.WithError(err).WithField("user_id", userID).Warn("admin session lookup failed")
		}
		return false
	}
	return !session.Expired(s.now())
}

// SweepExpiredSessions removes expired sessions and returns how many went.
func (s *Service) SweepExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	recs, err := s.repo.ListSessions(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		var session Session
		if err := json.Unmarshal(rec.Value, &session); err == nil && !session.Expired(now) {
			continue
		}
		if err := s.repo.kv.Delete(ctx, rec.Key, rec.Version); err == nil {
			removed++
		}
	}
	return removed, nil
}

// HashPassword returns an argon2id hash in the encoded form accepted by
// ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id checks password against an encoded hash:
// $argon2id$v=19$m=65536,t=3,p=2$<salt_base64>$<hash_base64>
func verifyArgon2id(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		log.Error("Malformed argon2id hash")
		return false
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		log.WithError(err).Error("Failed to parse argon2id parameters")
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		log.WithError(err).Error("Failed to decode argon2id salt")
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		log.WithError(err).Error("Failed to decode argon2id hash")
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// generateSecureToken returns a random session token.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
