package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"crisis-engine/internal/middleware"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// RoleReviewer is the role carried by tokens issued at login.
const RoleReviewer = "reviewer"

type AuthService interface {
	// Login returns a signed token and its expiry.
	Login(username, password string) (string, time.Time, error)
}

type authService struct {
	reviewers map[string]string // username -> argon2id hash
	secret    []byte
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService authenticates reviewers against argon2id hashes produced
// by HashPassword.
func NewAuthService(reviewers map[string]string, secret string, ttl time.Duration, logger *zap.Logger) AuthService {
	return &authService{
		reviewers: reviewers,
		secret:    []byte(secret),
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *authService) Login(username, password string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrAuthDisabled
	}

	hash, ok := s.reviewers[username]
	if !ok {
		// Unknown names still pay for one hash.
		_ = VerifyPassword(dummyHash, password)
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !VerifyPassword(hash, password) {
		s.logger.Warn("Failed login attempt", zap.String("username", username))
		return "", time.Time{}, ErrInvalidCredentials
	}

	now := s.now()
	expirationTime := now.Add(s.ttl)
	claims := &middleware.Claims{
		Role: RoleReviewer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", time.Time{}, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("Reviewer logged in", zap.String("username", username))
	return tokenString, expirationTime, nil
}

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

const dummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// HashPassword encodes password as
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword compares password with a hash from HashPassword.
func VerifyPassword(encoded, password string) bool {
	// ["", "argon2id", "v=19", "m=65536,t=1,p=4", salt, hash]
	sections := strings.Split(encoded, "$")
	if len(sections) != 6 || sections[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
