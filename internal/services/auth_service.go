package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spendwatch/internal/cache"
	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/store"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthorized       = errors.New("invalid or expired token")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const (
	MinPasswordLength = 8
	tokenBytes        = 32
	sessionCacheSize  = 10000
)

type SignupInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	MiddleName string
}

// LoginResult carries the bearer token handed to the client. Only its
// hash is stored.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      core.User
}

// AuthService manages accounts and bearer-token sessions.
type AuthService struct {
	users    store.UserStore
	sessions store.SessionStore
	cache    cache.Cache[core.Session]
	ttl      time.Duration
	logger   *log.Logger
	now      func() time.Time
	cost     int
}

type AuthServiceConfig struct {
	Users    store.UserStore
	Sessions store.SessionStore
	// Cache fronts session lookups; nil builds an LRU sized for one process.
	Cache      cache.Cache[core.Session]
	SessionTTL time.Duration
	Logger     *log.Logger
	Now        func() time.Time
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

func NewAuthService(cfg AuthServiceConfig) *AuthService {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewLRUCache[core.Session](sessionCacheSize, cfg.SessionTTL)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:    cfg.Users,
		sessions: cfg.Sessions,
		cache:    cfg.Cache,
		ttl:      cfg.SessionTTL,
		logger:   cfg.Logger.WithComponent(log.ComponentAuth),
		now:      cfg.Now,
		cost:     cfg.BcryptCost,
	}
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (core.User, error) {
	if strings.TrimSpace(in.Password) == "" {
		return core.User{}, core.ErrMissingPassword
	}
	now := s.now().UTC()
	u := core.User{
		ID:         uuid.NewString(),
		Email:      core.NormalizeEmail(in.Email),
		FirstName:  strings.TrimSpace(in.FirstName),
		LastName:   strings.TrimSpace(in.LastName),
		MiddleName: strings.TrimSpace(in.MiddleName),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return core.User{}, err
	}
	u.PasswordHash = hash

	created, err := s.users.CreateUser(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return core.User{}, ErrEmailTaken
	}
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.InfoContext(ctx, "User signed up", log.FieldUserID, created.ID)
	return created, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.InfoContext(ctx, "Login rejected", log.FieldUserID, u.ID, log.FieldOperation, log.OpLogin)
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	sess := core.Session{
		Token:     hashToken(token),
		UserID:    u.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return LoginResult{}, fmt.Errorf("create session: %w", err)
	}
	s.cache.SetUntil(sess.Token, sess, sess.ExpiresAt)
	return LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, User: u}, nil
}

// Authenticate resolves a bearer token to its user id.
func (s *AuthService) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}
	key := hashToken(token)
	now := s.now()

	if sess, ok := s.cache.Get(key); ok && !sess.Expired(now) {
		return sess.UserID, nil
	}

	sess, err := s.sessions.GetSession(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(now) {
		s.cache.Delete(key)
		if err := s.sessions.DeleteSession(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "Failed to delete expired session", log.FieldError, err)
		}
		return "", ErrUnauthorized
	}
	s.cache.SetUntil(key, sess, sess.ExpiresAt)
	return sess.UserID, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	key := hashToken(token)
	s.cache.Delete(key)
	if err := s.sessions.DeleteSession(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
