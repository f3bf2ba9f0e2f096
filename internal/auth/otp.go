package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

// OTPConfig tunes the one-time code flow.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	ResendAfter time.Duration
	// HashCost is the bcrypt cost for stored codes.
	HashCost int
}

func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		TTL:         10 * time.Minute,
		MaxAttempts: 5,
		ResendAfter: 30 * time.Second,
		HashCost:    bcrypt.DefaultCost,
	}
}

// pendingLogin is one outstanding code, keyed by user id.
type pendingLogin struct {
	email    string
	hash     []byte
	attempts int
	sentAt   time.Time
}

// OTPService issues and checks email one-time codes. Codes live only in
// memory and are stored as bcrypt hashes.
type OTPService struct {
	mu      sync.Mutex
	pending *gocache.Cache
	mailer  Mailer
	config  OTPConfig
	now     func() time.Time
}

func NewOTPService(mailer Mailer, config OTPConfig) *OTPService {
	def := DefaultOTPConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.HashCost == 0 {
		config.HashCost = def.HashCost
	}
	return &OTPService{
		pending: gocache.New(config.TTL, config.TTL),
		mailer:  mailer,
		config:  config,
		now:     time.Now,
	}
}

// UserID derives a stable user id from an email address.
func UserID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalizeEmail(email))).String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login sends a fresh code to email and returns the user id to verify with.
func (s *OTPService) Login(ctx context.Context, email string) (LoginResponse, error) {
	email = normalizeEmail(email)
	userID := UserID(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCooldownLocked(userID); err != nil {
		return LoginResponse{}, err
	}
	if err := s.issueLocked(ctx, userID, email); err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{UserID: userID, Message: "A login code was sent to " + email}, nil
}

// Resend issues a new code for a login that is still pending.
func (s *OTPService) Resend(ctx context.Context, userID string) (LoginResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.getLocked(userID)
	if !ok {
		return LoginResponse{}, ErrNoPendingLogin
	}
	if err := s.checkCooldownLocked(userID); err != nil {
		return LoginResponse{}, err
	}
	if err := s.issueLocked(ctx, userID, p.email); err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{UserID: userID, Message: "A new login code was sent to " + p.email}, nil
}

// Verify checks code for userID and returns the verified email. A pending
// login is dropped after success or after MaxAttempts failures.
func (s *OTPService) Verify(ctx context.Context, userID, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.getLocked(userID)
	if !ok {
		return "", ErrNoPendingLogin
	}

	if err := bcrypt.CompareHashAndPassword(p.hash, []byte(code)); err != nil {
		p.attempts++
		if p.attempts >= s.config.MaxAttempts {
			s.pending.Delete(userID)
			slog.WarnContext(ctx, "OTP invalidated after too many attempts", "component", "auth", "owner", userID)
			return "", ErrTooManyAttempts
		}
		return "", ErrInvalidOTP
	}

	s.pending.Delete(userID)
	return p.email, nil
}

func (s *OTPService) getLocked(userID string) (*pendingLogin, bool) {
	v, ok := s.pending.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*pendingLogin), true
}

func (s *OTPService) checkCooldownLocked(userID string) error {
	p, ok := s.getLocked(userID)
	if !ok || s.config.ResendAfter <= 0 {
		return nil
	}
	if wait := p.sentAt.Add(s.config.ResendAfter).Sub(s.now()); wait > 0 {
		return &CooldownError{RetryAfter: wait}
	}
	return nil
}

func (s *OTPService) issueLocked(ctx context.Context, userID, email string) error {
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.HashCost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}
	if err := s.mailer.SendOTP(ctx, email, code); err != nil {
		return err
	}
	s.pending.Set(userID, &pendingLogin{
		email:  email,
		hash:   hash,
		sentAt: s.now(),
	}, gocache.DefaultExpiration)
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n), nil
}
