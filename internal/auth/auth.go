// Package auth issues HS256 JWTs and hashes the admin password with
// Argon2id, generalizing the teacher's internal/auth JWTTokenManager
// (_teacher_ref/jwt_tokens.go) from its multi-user session/refresh-token
// model down to this spec's single admin credential (§6: credentials
// generated once at process start, no user registration or refresh flow).
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// Claims is the decoded content of an access token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Manager issues and verifies admin JWTs and the admin password hash.
type Manager struct {
	secret   []byte
	issuer   string
	ttl      time.Duration
	username string
	pwHash   string
}

// NewManager builds a Manager, hashing password once at construction —
// SPEC_FULL.md's "generated once at process start" requirement.
func NewManager(secret, issuer, username, password string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("auth: JWT secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	m := &Manager{secret: []byte(secret), issuer: issuer, ttl: ttl, username: username}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash admin password: %w", err)
	}
	m.pwHash = hash
	return m, nil
}

// Authenticate checks username/password against the admin credential
// generated at construction and, on success, issues an access token.
func (m *Manager) Authenticate(username, password string) (string, time.Time, error) {
	if username != m.username {
		return "", time.Time{}, errors.New("auth: invalid credentials")
	}
	ok, err := verifyPassword(password, m.pwHash)
	if err != nil || !ok {
		return "", time.Time{}, errors.New("auth: invalid credentials")
	}
	return m.issueToken(username)
}

func (m *Manager) issueToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": m.issuer,
		"exp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseToken validates and decodes an access token.
func (m *Manager) ParseToken(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("auth: invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	expValue, _ := claims["exp"].(float64)
	return Claims{Subject: sub, ExpiresAt: time.Unix(int64(expValue), 0)}, nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s", argonTime, argonMemory, argonThreads, b64Salt, b64Hash), nil
}

func verifyPassword(password, encodedHash string) (bool, error) {
	params, salt, hash, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(hash)))
	if len(computed) != len(hash) {
		return false, nil
	}
	var diff byte
	for i := range computed {
		diff |= computed[i] ^ hash[i]
	}
	return diff == 0, nil
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return argonParams{}, nil, nil, fmt.Errorf("auth: invalid hash format")
	}
	var params argonParams
	var err error
	if params.time, err = parseUint32(parts[1]); err != nil {
		return argonParams{}, nil, nil, err
	}
	if params.memory, err = parseUint32(parts[2]); err != nil {
		return argonParams{}, nil, nil, err
	}
	threads, err := parseUint32(parts[3])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	if threads == 0 || threads > 255 {
		return argonParams{}, nil, nil, fmt.Errorf("auth: invalid thread count")
	}
	params.threads = uint8(threads)
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return argonParams{}, nil, nil, err
	}
	return params, salt, hash, nil
}

func parseUint32(value string) (uint32, error) {
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
