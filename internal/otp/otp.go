// Package otp issues and verifies single-use one-time passcodes keyed by
// subject id.
//
// Each subject has at most one live record. Issuing replaces any unconsumed
// record, a successful verification deletes it, and an expired record is
// deleted the first time a verification observes the expiry. Expiry is a pure
// function of the clock at verification time; there is no background sweeper.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

const (
	CodeLength      = 4
	SubjectIDLength = 8
	Validity        = 5 * time.Minute

	secretBytes = 20
)

// Reason describes a verification outcome.
type Reason string

const (
	ReasonVerified     Reason = "verified"
	ReasonNoSuchRecord Reason = "no_such_record"
	ReasonExpired      Reason = "expired"
	ReasonInvalidCode  Reason = "invalid_code"
)

// Message returns the human-readable text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonVerified:
		return "OTP verified successfully"
	case ReasonNoSuchRecord:
		return "No OTP was generated for this student ID"
	case ReasonExpired:
		return "OTP has expired"
	case ReasonInvalidCode:
		return "Invalid OTP"
	default:
		return string(r)
	}
}

// Result is the typed outcome of Verify.
type Result struct {
	OK     bool
	Reason Reason
}

// Record is the stored state for one issued code.
type Record struct {
	SubjectID string    `json:"subject_id"`
	Secret    string    `json:"secret"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its window at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ErrNotFound is returned by a Store when the subject has no record.
var ErrNotFound = errors.New("otp record not found")

// Store holds at most one record per subject id.
type Store interface {
	Get(ctx context.Context, subjectID string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, subjectID string) error
}

// CodeFunc derives the code for a secret at a point in time.
type CodeFunc func(secret string, at time.Time) (string, error)

// Manager drives the OTP lifecycle on top of a Store.
type Manager struct {
	store    Store
	logger   *zap.Logger
	now      func() time.Time
	code     CodeFunc
	random   io.Reader
	validity time.Duration
	locks    *keyedLocks
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCodeFunc replaces the TOTP code derivation.
func WithCodeFunc(fn CodeFunc) Option {
	return func(m *Manager) { m.code = fn }
}

// WithRandom replaces the secret entropy source.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// NewManager builds a Manager that owns store.
func NewManager(store Store, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		logger:   logger.Named("otp"),
		now:      time.Now,
		code:     TOTPCode,
		random:   rand.Reader,
		validity: Validity,
		locks:    newKeyedLocks(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue creates a fresh code for subjectID, replacing any unconsumed one.
func (m *Manager) Issue(ctx context.Context, subjectID string) (string, error) {
	unlock := m.locks.lock(subjectID)
	defer unlock()

	secret, err := newSecret(m.random)
	if err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	now := m.now()
	code, err := m.code(secret, now)
	if err != nil {
		return "", fmt.Errorf("derive otp code: %w", err)
	}

	rec := &Record{
		SubjectID: subjectID,
		Secret:    secret,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.validity),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store otp record: %w", err)
	}
	m.logger.Info("otp issued", zap.String("subject_id", subjectID), zap.Time("expires_at", rec.ExpiresAt))
	return code, nil
}

// Verify checks code against the live record for subjectID. The error return
// is reserved for store failures; lifecycle outcomes are reported in Result.
func (m *Manager) Verify(ctx context.Context, subjectID, code string) (Result, error) {
	unlock := m.locks.lock(subjectID)
	defer unlock()

	log := m.logger.With(zap.String("subject_id", subjectID))

	rec, err := m.store.Get(ctx, subjectID)
	if errors.Is(err, ErrNotFound) {
		log.Info("otp verification without record")
		return Result{Reason: ReasonNoSuchRecord}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load otp record: %w", err)
	}

	if rec.Expired(m.now()) {
		if err := m.store.Delete(ctx, subjectID); err != nil {
			return Result{}, fmt.Errorf("delete expired otp record: %w", err)
		}
		log.Info("otp expired")
		return Result{Reason: ReasonExpired}, nil
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) == 1 {
		if err := m.store.Delete(ctx, subjectID); err != nil {
			return Result{}, fmt.Errorf("consume otp record: %w", err)
		}
		log.Info("otp verified")
		return Result{OK: true, Reason: ReasonVerified}, nil
	}

	log.Warn("invalid otp")
	return Result{Reason: ReasonInvalidCode}, nil
}

// TOTPCode derives a CodeLength-digit TOTP whose period equals the validity
// window.
func TOTPCode(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    uint(Validity / time.Second),
		Digits:    potp.Digits(CodeLength),
		Algorithm: potp.AlgorithmSHA1,
	})
}

func newSecret(r io.Reader) (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// ValidSubjectID reports whether id is exactly SubjectIDLength ASCII digits.
func ValidSubjectID(id string) bool {
	return allDigits(id, SubjectIDLength)
}

// ValidCode reports whether code is exactly CodeLength ASCII digits.
func ValidCode(code string) bool {
	return allDigits(code, CodeLength)
}

func allDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
