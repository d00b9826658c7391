package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const subject = "12345678"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceCodes hands out fixed codes in order.
func sequenceCodes(codes ...string) CodeFunc {
	var mu sync.Mutex
	return func(secret string, at time.Time) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

func newTestManager(t *testing.T, codes ...string) (*Manager, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	m := NewManager(store, zap.NewNop(), WithClock(clock.Now), WithCodeFunc(sequenceCodes(codes...)))
	return m, store, clock
}

func TestIssueVerifyConsumeScenario(t *testing.T) {
	m, store, _ := newTestManager(t, "4821")
	ctx := context.Background()

	code, err := m.Issue(ctx, subject)
	require.NoError(t, err)
	assert.Len(t, code, CodeLength)

	res, err := m.Verify(ctx, subject, "0000")
	require.NoError(t, err)
	assert.Equal(t, Result{Reason: ReasonInvalidCode}, res)
	assert.Equal(t, 1, store.Len(), "mismatch keeps the record")

	res, err = m.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.Equal(t, Result{OK: true, Reason: ReasonVerified}, res)

	res, err = m.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.Equal(t, Result{Reason: ReasonNoSuchRecord}, res, "codes are single use")
	assert.Zero(t, store.Len())
}

func TestVerifyWithoutIssue(t *testing.T) {
	m, _, _ := newTestManager(t)

	res, err := m.Verify(context.Background(), subject, "1234")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonNoSuchRecord, res.Reason)
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	m, _, _ := newTestManager(t, "1111", "2222")
	ctx := context.Background()

	first, err := m.Issue(ctx, subject)
	require.NoError(t, err)
	second, err := m.Issue(ctx, subject)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	res, err := m.Verify(ctx, subject, first)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason)

	res, err = m.Verify(ctx, subject, second)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = m.Verify(ctx, subject, first)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSuchRecord, res.Reason, "old code fails with no record once the live one is consumed")
}

func TestVerifyExpiredCodeDeletesRecord(t *testing.T) {
	m, store, clock := newTestManager(t, "5555")
	ctx := context.Background()

	code, err := m.Issue(ctx, subject)
	require.NoError(t, err)

	clock.Advance(Validity)
	res, err := m.Verify(ctx, subject, "0001")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason, "exactly at the boundary the code is still live")

	clock.Advance(time.Second)
	res, err = m.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.Equal(t, Result{Reason: ReasonExpired}, res)
	assert.Zero(t, store.Len())

	res, err = m.Verify(ctx, subject, code)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoSuchRecord, res.Reason)
}

func TestSubjectsAreIndependent(t *testing.T) {
	m, _, _ := newTestManager(t, "1000", "2000")
	ctx := context.Background()

	a, err := m.Issue(ctx, "11111111")
	require.NoError(t, err)
	b, err := m.Issue(ctx, "22222222")
	require.NoError(t, err)

	res, err := m.Verify(ctx, "11111111", b)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidCode, res.Reason)

	res, err = m.Verify(ctx, "22222222", b)
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = m.Verify(ctx, "11111111", a)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestConcurrentVerifyConsumesOnce(t *testing.T) {
	m, _, _ := newTestManager(t, "7777")
	ctx := context.Background()

	code, err := m.Issue(ctx, subject)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Verify(ctx, subject, code)
			if err != nil {
				t.Error(err)
				return
			}
			if res.OK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Zero(t, m.locks.size(), "locks are released after use")
}

type failingStore struct {
	*MemoryStore
	getErr, putErr, delErr error
}

func (f *failingStore) Get(ctx context.Context, id string) (*Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryStore.Get(ctx, id)
}

func (f *failingStore) Put(ctx context.Context, rec *Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MemoryStore.Put(ctx, rec)
}

func (f *failingStore) Delete(ctx context.Context, id string) error {
	if f.delErr != nil {
		return f.delErr
	}
	return f.MemoryStore.Delete(ctx, id)
}

func TestStoreFailuresSurfaceAsErrors(t *testing.T) {
	boom := errors.New("store offline")
	ctx := context.Background()

	store := &failingStore{MemoryStore: NewMemoryStore(), putErr: boom}
	m := NewManager(store, zap.NewNop())
	_, err := m.Issue(ctx, subject)
	assert.ErrorIs(t, err, boom)

	store = &failingStore{MemoryStore: NewMemoryStore(), getErr: boom}
	m = NewManager(store, zap.NewNop())
	_, err = m.Verify(ctx, subject, "1234")
	assert.ErrorIs(t, err, boom)
}

func TestDefaultCodeIsNumeric(t *testing.T) {
	m := NewManager(NewMemoryStore(), zap.NewNop())

	code, err := m.Issue(context.Background(), subject)
	require.NoError(t, err)
	assert.True(t, ValidCode(code), "code %q", code)
}

func TestTOTPCodeIsStableWithinWindow(t *testing.T) {
	secret, err := newSecret(strings.NewReader(strings.Repeat("k", secretBytes)))
	require.NoError(t, err)

	start := time.Unix(1_700_000_100, 0)
	a, err := TOTPCode(secret, start)
	require.NoError(t, err)
	b, err := TOTPCode(secret, start.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, CodeLength)
}

func TestNewSecretFailsOnShortEntropy(t *testing.T) {
	_, err := newSecret(strings.NewReader("abc"))
	assert.Error(t, err)
}

func TestFormatValidators(t *testing.T) {
	assert.True(t, ValidSubjectID("12345678"))
	assert.False(t, ValidSubjectID("1234567"))
	assert.False(t, ValidSubjectID("1234567a"))
	assert.False(t, ValidSubjectID("１２３４５６７８"))
	assert.True(t, ValidCode("0042"))
	assert.False(t, ValidCode("42"))
	assert.False(t, ValidCode("00 42"))
}

func TestReasonMessages(t *testing.T) {
	assert.Equal(t, "OTP has expired", ReasonExpired.Message())
	assert.Equal(t, "Invalid OTP", ReasonInvalidCode.Message())
	assert.Equal(t, "OTP verified successfully", ReasonVerified.Message())
	assert.Equal(t, "No OTP was generated for this student ID", ReasonNoSuchRecord.Message())
}
