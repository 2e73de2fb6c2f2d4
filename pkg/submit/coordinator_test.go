package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/metrics"
	"intake/pkg/schema"
	"intake/pkg/store"
)

// scriptedDeliverer fails the first failures calls, then succeeds.
type scriptedDeliverer struct {
	mu       sync.Mutex
	failures int
	calls    int
	payloads []*Payload
	block    chan struct{}
}

func (s *scriptedDeliverer) Deliver(_ context.Context, payload *Payload) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.payloads = append(s.payloads, payload)
	if s.calls <= s.failures {
		return errors.New("endpoint unreachable")
	}
	return nil
}

func (s *scriptedDeliverer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type deliveryObservation struct {
	success  bool
	attempts int
}

// captureRecorder records delivery observations and lockout hits.
type captureRecorder struct {
	metrics.NoopRecorder
	mu         sync.Mutex
	deliveries []deliveryObservation
	lockouts   int
}

func (r *captureRecorder) ObserveDelivery(success bool, attempts int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, deliveryObservation{success, attempts})
}

func (r *captureRecorder) IncLockoutHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lockouts++
}

func testOptions() Options {
	return Options{
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		LockoutWindow: 24 * time.Hour,
	}
}

func newTestCoordinator(t *testing.T, kv store.KV, deliverer Deliverer, recorder metrics.Recorder) (*Coordinator, *formstate.Manager, *[]time.Duration) {
	t.Helper()
	reg, err := schema.Load()
	require.NoError(t, err)

	form := formstate.NewManager(kv)
	c := NewCoordinator(form, reg, kv, deliverer, recorder, testOptions())

	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, form, &sleeps
}

func giveConsent(form *formstate.Manager) {
	form.SetFieldValue(schema.StepPrivacy, ConsentField, true)
}

func TestSubmitRequiresConsent(t *testing.T) {
	deliverer := &scriptedDeliverer{}
	c, _, _ := newTestCoordinator(t, store.NewMemory(), deliverer, nil)

	err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrConsentRequired)
	assert.Equal(t, 0, deliverer.callCount(), "no delivery without consent")
	assert.Equal(t, StateIdle, c.State())
}

func TestSubmitSucceedsFirstAttempt(t *testing.T) {
	kv := store.NewMemory()
	deliverer := &scriptedDeliverer{}
	recorder := &captureRecorder{}
	c, form, sleeps := newTestCoordinator(t, kv, deliverer, recorder)

	form.SetFieldValue(schema.StepPersonalData, "nome", "Anna")
	giveConsent(form)

	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, 1, deliverer.callCount())
	assert.Empty(t, *sleeps)
	assert.Equal(t, StateSucceeded, c.State())

	// Success clears the form state and writes the lockout marker.
	raw, ok := kv.Load(LockoutKey)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, raw)
	assert.NoError(t, err)
	_, ok = kv.Load(formstate.StateKey)
	assert.False(t, ok, "form state removed after delivery")

	require.Len(t, recorder.deliveries, 1)
	assert.True(t, recorder.deliveries[0].success)
	assert.Equal(t, 1, recorder.deliveries[0].attempts)
}

func TestSubmitRetriesWithExponentialBackoff(t *testing.T) {
	deliverer := &scriptedDeliverer{failures: 2}
	recorder := &captureRecorder{}
	c, form, sleeps := newTestCoordinator(t, store.NewMemory(), deliverer, recorder)
	giveConsent(form)

	require.NoError(t, c.Submit(context.Background()))

	assert.Equal(t, 3, deliverer.callCount())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	require.Len(t, recorder.deliveries, 1)
	assert.True(t, recorder.deliveries[0].success)
	assert.Equal(t, 3, recorder.deliveries[0].attempts)
}

func TestSubmitExhaustionReArms(t *testing.T) {
	kv := store.NewMemory()
	deliverer := &scriptedDeliverer{failures: 10}
	recorder := &captureRecorder{}
	c, form, sleeps := newTestCoordinator(t, kv, deliverer, recorder)
	giveConsent(form)

	err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrDeliveryExhausted)

	assert.Equal(t, 3, deliverer.callCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, ExhaustedMessage, c.FailureMessage())

	_, ok := kv.Load(LockoutKey)
	assert.False(t, ok, "no lockout marker on failure")

	// The gate re-arms: fixing the endpoint and retrying works.
	deliverer.mu.Lock()
	deliverer.failures = 0
	deliverer.calls = 0
	deliverer.mu.Unlock()
	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, StateSucceeded, c.State())
}

func TestSubmitBlockedByActiveLockout(t *testing.T) {
	kv := store.NewMemory()
	kv.Save(LockoutKey, time.Now().UTC().Format(time.RFC3339))

	c, form, _ := newTestCoordinator(t, kv, &scriptedDeliverer{}, nil)
	giveConsent(form)

	// An active lockout puts the coordinator straight into the terminal
	// success state at construction; the gate never re-arms this session.
	assert.Equal(t, StateSucceeded, c.State())
	err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInFlight)
}

func TestLockoutExpiresAfterWindow(t *testing.T) {
	kv := store.NewMemory()
	deliverer := &scriptedDeliverer{}
	c, form, _ := newTestCoordinator(t, kv, deliverer, nil)
	giveConsent(form)

	// A marker older than the window does not block.
	old := time.Now().Add(-25 * time.Hour).UTC().Format(time.RFC3339)
	kv.Save(LockoutKey, old)
	assert.False(t, c.CheckDuplicatePrevention())

	require.NoError(t, c.Submit(context.Background()))
	assert.Equal(t, 1, deliverer.callCount())
}

func TestLockoutFailsOpenOnUnreadableMarker(t *testing.T) {
	kv := store.NewMemory()
	kv.Save(LockoutKey, "not-a-timestamp")

	c, form, _ := newTestCoordinator(t, kv, &scriptedDeliverer{}, nil)
	giveConsent(form)

	assert.False(t, c.CheckDuplicatePrevention())
	assert.NoError(t, c.Submit(context.Background()))
}

func TestSubmitRejectsConcurrentAttempt(t *testing.T) {
	block := make(chan struct{})
	deliverer := &scriptedDeliverer{block: block}
	c, form, _ := newTestCoordinator(t, store.NewMemory(), deliverer, nil)
	giveConsent(form)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()

	// Wait for the first submission to arm the gate.
	require.Eventually(t, func() bool {
		return c.State() == StateInFlight
	}, time.Second, time.Millisecond)

	err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyInFlight)

	close(block)
	assert.NoError(t, <-done)
}

func TestCollectAttachmentsStripsPrefixAndOrders(t *testing.T) {
	c, form, _ := newTestCoordinator(t, store.NewMemory(), &scriptedDeliverer{}, nil)

	front, err := attach.Stage("fronte.jpg", attach.MimeJPEG, []byte("front"))
	require.NoError(t, err)
	back, err := attach.Stage("retro.jpg", attach.MimeJPEG, []byte("back"))
	require.NoError(t, err)

	// The back slot carries a data-URL payload, as restored previews do.
	backValue := back.FieldValue()
	backValue["data"] = back.DataURL()

	form.SetFieldValue(schema.StepDocuments, "documento-retro", backValue)
	form.SetFieldValue(schema.StepDocuments, "documento-fronte", front.FieldValue())

	files := c.CollectAttachments(form.GetState())
	require.Len(t, files, 2)
	assert.Equal(t, "fronte.jpg", files[0].FileName, "front slot first regardless of insertion order")
	assert.Equal(t, "retro.jpg", files[1].FileName)
	assert.Equal(t, back.Data, files[1].Data, "prefix stripped from the stored payload")
	assert.NotContains(t, files[1].Data, "base64,")
}

func TestSubmitPayloadShape(t *testing.T) {
	deliverer := &scriptedDeliverer{}
	c, form, _ := newTestCoordinator(t, store.NewMemory(), deliverer, nil)

	form.SetFieldValue(schema.StepPersonalData, "codice-fiscale", "RSSNNA80A41F205X")
	giveConsent(form)

	require.NoError(t, c.Submit(context.Background()))
	require.Len(t, deliverer.payloads, 1)

	payload := deliverer.payloads[0]
	assert.Equal(t, "submit", payload.Action)
	assert.Equal(t, "RSSNNA80A41F205X", payload.Data["codiceFiscale"])
	assert.Empty(t, payload.Files)
}

func TestLockoutHitRecorded(t *testing.T) {
	kv := store.NewMemory()
	recorder := &captureRecorder{}
	c, form, _ := newTestCoordinator(t, kv, &scriptedDeliverer{}, recorder)
	giveConsent(form)

	require.NoError(t, c.Submit(context.Background()))

	// Force the gate open again so the lockout check itself is exercised.
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()

	err := c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 1, recorder.lockouts)
}
