// Package ledger issues, rate-limits and verifies one-time passcodes keyed
// by email address.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/slotline/bookings-agent/services/email/internal/mailer"
)

const (
	ReasonTooManyRequests = "too_many_requests"
	ReasonNoPending       = "no_pending"
	ReasonExpired         = "expired"
	ReasonTooManyAttempts = "too_many_attempts"
	ReasonIncorrectCode   = "incorrect_code"
)

const codeLength = 6

// Outcome is the structured, non-exception result of an issue or verify
// call. OTP failures are outcomes, not errors; errors are reserved for
// infrastructure problems.
type Outcome struct {
	OK         bool   `json:"ok"`
	Verified   bool   `json:"verified,omitempty"`
	Reason     string `json:"reason,omitempty"`
	TTLSeconds int    `json:"ttlSeconds,omitempty"`
}

// Record is the ephemeral per-email OTP state. Only the hash of the code is
// ever stored.
type Record struct {
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
}

// Store persists OTP records and the hourly send bucket. Implementations
// must make IncrSendBucket atomic per key so concurrent sends cannot bypass
// the cap.
type Store interface {
	GetRecord(ctx context.Context, email string) (*Record, error)
	PutRecord(ctx context.Context, email string, rec *Record) error
	DeleteRecord(ctx context.Context, email string) error
	IncrSendBucket(ctx context.Context, email string, window time.Duration) (int, error)
}

type Config struct {
	TTL             time.Duration
	MaxSendsPerHour int
	MaxAttempts     int
}

// Ledger owns the OTP lifecycle. Operations on the same email are serialized
// by a keyed mutex; different emails proceed concurrently.
type Ledger struct {
	store  Store
	mailer mailer.Service
	cfg    Config
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, mailerSvc mailer.Service, cfg Config) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = 600 * time.Second
	}
	if cfg.MaxSendsPerHour <= 0 {
		cfg.MaxSendsPerHour = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Ledger{
		store:  store,
		mailer: mailerSvc,
		cfg:    cfg,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the ledger's time source. Used by tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Issue generates a fresh code for the email, stores its hash and dispatches
// it. A re-issue supersedes any previous record: the latest code wins and
// the old one stops working. The hourly bucket is counted before generation,
// so a refused send still consumes a bucket slot.
func (l *Ledger) Issue(ctx context.Context, email, locale string) (Outcome, error) {
	email = normalizeEmail(email)
	unlock := l.lockEmail(email)
	defer unlock()

	count, err := l.store.IncrSendBucket(ctx, email, time.Hour)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to update send bucket: %w", err)
	}
	if count > l.cfg.MaxSendsPerHour {
		return Outcome{Reason: ReasonTooManyRequests}, nil
	}

	code, err := generateCode(codeLength)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := argon2id.CreateHash(code, argon2id.DefaultParams)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to hash code: %w", err)
	}

	rec := &Record{
		CodeHash:  hash,
		ExpiresAt: l.now().Add(l.cfg.TTL),
		Attempts:  0,
	}
	if err := l.store.PutRecord(ctx, email, rec); err != nil {
		return Outcome{}, fmt.Errorf("failed to store OTP record: %w", err)
	}

	if err := l.mailer.SendOTPEmail(email, code, l.cfg.TTL, locale); err != nil {
		return Outcome{}, fmt.Errorf("failed to send OTP email: %w", err)
	}

	return Outcome{OK: true, TTLSeconds: int(l.cfg.TTL.Seconds())}, nil
}

// Verify checks a supplied code against the stored hash. The record is
// deleted on success and on expiry detection; a failed attempt is consumed
// either way. The attempt cap is a strict boundary: the check fails on the
// attempt after the configured maximum.
func (l *Ledger) Verify(ctx context.Context, email, code string) (Outcome, error) {
	email = normalizeEmail(email)
	unlock := l.lockEmail(email)
	defer unlock()

	rec, err := l.store.GetRecord(ctx, email)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load OTP record: %w", err)
	}
	if rec == nil {
		return Outcome{Reason: ReasonNoPending}, nil
	}

	if l.now().After(rec.ExpiresAt) {
		if err := l.store.DeleteRecord(ctx, email); err != nil {
			return Outcome{}, fmt.Errorf("failed to delete expired record: %w", err)
		}
		return Outcome{Reason: ReasonExpired}, nil
	}

	rec.Attempts++
	if rec.Attempts > l.cfg.MaxAttempts {
		if err := l.store.PutRecord(ctx, email, rec); err != nil {
			return Outcome{}, fmt.Errorf("failed to update OTP record: %w", err)
		}
		return Outcome{Reason: ReasonTooManyAttempts}, nil
	}

	match, err := argon2id.ComparePasswordAndHash(code, rec.CodeHash)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to compare code hash: %w", err)
	}
	if !match {
		if err := l.store.PutRecord(ctx, email, rec); err != nil {
			return Outcome{}, fmt.Errorf("failed to update OTP record: %w", err)
		}
		return Outcome{Reason: ReasonIncorrectCode}, nil
	}

	if err := l.store.DeleteRecord(ctx, email); err != nil {
		return Outcome{}, fmt.Errorf("failed to delete verified record: %w", err)
	}
	return Outcome{OK: true, Verified: true}, nil
}

// lockEmail serializes issue/verify for one address so a verify racing an
// issue observes one consistent record. Mutexes are kept for the process
// lifetime; the key space is bounded by distinct recipient addresses.
func (l *Ledger) lockEmail(email string) func() {
	l.mu.Lock()
	m, ok := l.locks[email]
	if !ok {
		m = &sync.Mutex{}
		l.locks[email] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func generateCode(digits int) (string, error) {
	var b strings.Builder
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
