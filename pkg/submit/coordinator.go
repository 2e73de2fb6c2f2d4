// Package submit builds the outbound payload and drives its delivery.
//
// The coordinator enforces the two submission disciplines the
// questionnaire has: at most one in-flight attempt per session (a boolean
// gate checked at the single entry point) and a time-boxed duplicate
// lockout across sessions (a persisted timestamp). Delivery retries
// sequentially with exponential backoff; cancellation is not supported
// once a submission starts.
package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intake/pkg/attach"
	"intake/pkg/formstate"
	"intake/pkg/logx"
	"intake/pkg/metrics"
	"intake/pkg/schema"
	"intake/pkg/store"
)

// LockoutKey is the durable key holding the last successful submission
// timestamp, RFC3339.
const LockoutKey = "intake:last-submission"

// ConsentField is the privacy checkbox gating the terminal action.
const ConsentField = "privacy-consent"

// Sentinel errors surfaced by Submit.
var (
	ErrAlreadyInFlight   = errors.New("submission already in flight")
	ErrConsentRequired   = errors.New("privacy consent required")
	ErrLocked            = errors.New("submission locked out")
	ErrDeliveryExhausted = errors.New("delivery failed after all retries")
)

// ExhaustedMessage is the localized blocking alert shown when every
// delivery attempt failed.
const ExhaustedMessage = "Non è stato possibile inviare la richiesta. Riprova tra qualche minuto."

// tickerMessages is the fixed progress sequence. The ticker advances
// through it and holds on the last entry.
var tickerMessages = []string{
	"Invio dei dati in corso...",
	"Caricamento dei documenti...",
	"Verifica delle informazioni...",
	"Ancora un istante...",
}

// State is the coordinator's terminal-view state.
type State string

const (
	StateIdle      State = "idle"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Options carries the product constants; defaults live in pkg/config.
type Options struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	LockoutWindow  time.Duration
	TickerInterval time.Duration
}

// Coordinator owns the submission path.
type Coordinator struct {
	form      *formstate.Manager
	registry  *schema.Registry
	kv        store.KV
	deliverer Deliverer
	recorder  metrics.Recorder
	logger    *logx.Logger
	opts      Options

	// sleep and now are injected by tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu            sync.Mutex
	inFlight      bool
	state         State
	tickerMessage string
	tickerStop    chan struct{}
	failure       string
}

// NewCoordinator wires the coordinator. When the persisted lockout is
// still active the coordinator starts in the succeeded terminal state and
// the submit control is never armed for this session.
func NewCoordinator(form *formstate.Manager, registry *schema.Registry, kv store.KV, deliverer Deliverer, recorder metrics.Recorder, opts Options) *Coordinator {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	c := &Coordinator{
		form:      form,
		registry:  registry,
		kv:        kv,
		deliverer: deliverer,
		recorder:  recorder,
		logger:    logx.NewLogger("submit"),
		opts:      opts,
		sleep:     sleepCtx,
		now:       time.Now,
		state:     StateIdle,
	}
	if c.CheckDuplicatePrevention() {
		c.logger.Info("Active submission lockout found, entering terminal success state")
		c.state = StateSucceeded
		c.inFlight = true
	}
	return c
}

// State returns the terminal-view state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TickerMessage returns the current progress message, empty when no
// submission is in flight.
func (c *Coordinator) TickerMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickerMessage
}

// FailureMessage returns the blocking alert text after exhaustion.
func (c *Coordinator) FailureMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// CheckDuplicatePrevention reports whether a successful submission
// happened within the lockout window. Read problems fail open: a broken
// marker never blocks a legitimate submission.
func (c *Coordinator) CheckDuplicatePrevention() bool {
	raw, ok := c.kv.Load(LockoutKey)
	if !ok {
		return false
	}
	stamp, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.logger.Warn("Unreadable lockout marker, permitting submission: %v", err)
		return false
	}
	return c.now().Sub(stamp) < c.opts.LockoutWindow
}

// CollectAttachments pulls the staged files from the documents step in
// slot order, stripping any data-URL prefix from the payloads.
func (c *Coordinator) CollectAttachments(state formstate.FormState) []attach.StagedFile {
	data := state.FormData[schema.StepKey(schema.StepDocuments)]

	files := make([]attach.StagedFile, 0, 2)
	for _, field := range c.registry.FileFields() {
		staged, ok := attach.FromFieldValue(data[field.Name])
		if !ok {
			continue
		}
		staged.Data = attach.StripDataURLPrefix(staged.Data)
		files = append(files, staged)
	}
	return files
}

// Submit runs the full submission path synchronously: idempotency gate,
// lockout check, consent check, payload build, retrying delivery,
// terminal state transition. It returns nil on success.
func (c *Coordinator) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrAlreadyInFlight
	}
	if c.CheckDuplicatePrevention() {
		c.mu.Unlock()
		c.recorder.IncLockoutHit()
		return ErrLocked
	}
	if !c.consentGiven() {
		// The terminal action silently refuses until consent is checked.
		c.mu.Unlock()
		return ErrConsentRequired
	}
	// Armed the instant the action starts; cleared only on failure.
	c.inFlight = true
	c.state = StateInFlight
	c.failure = ""
	c.startTickerLocked()
	c.mu.Unlock()

	state := c.form.GetState()
	payload := &Payload{
		Action: "submit",
		Data:   Flatten(state),
		Files:  c.CollectAttachments(state),
	}

	started := c.now()
	attempts, err := c.deliverWithRetry(ctx, payload)
	elapsed := c.now().Sub(started)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTickerLocked()

	if err != nil {
		c.recorder.ObserveDelivery(false, attempts, elapsed)
		c.logger.Error("Delivery exhausted after %d attempts: %v", attempts, err)
		// Re-arm the submit path for a manual retry.
		c.inFlight = false
		c.state = StateFailed
		c.failure = ExhaustedMessage
		return fmt.Errorf("%w: %v", ErrDeliveryExhausted, err)
	}

	c.recorder.ObserveDelivery(true, attempts, elapsed)
	if !c.kv.Save(LockoutKey, c.now().UTC().Format(time.RFC3339)) {
		c.recorder.IncStorageError("write")
		c.logger.Warn("Could not persist lockout marker, duplicate prevention limited to this session")
	}
	c.form.ClearState()
	c.state = StateSucceeded
	c.logger.Info("Submission succeeded after %d attempt(s)", attempts)
	return nil
}

// deliverWithRetry runs sequential delivery attempts with exponential
// backoff between them: base, base*2, base*4... Returns the number of
// attempts used.
func (c *Coordinator) deliverWithRetry(ctx context.Context, payload *Payload) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.opts.BackoffBase << (attempt - 2)
			c.logger.Info("Retrying delivery in %s (attempt %d/%d)", delay, attempt, c.opts.MaxAttempts)
			if err := c.sleep(ctx, delay); err != nil {
				return attempt - 1, fmt.Errorf("retry wait interrupted: %w", err)
			}
		}

		if err := c.deliverer.Deliver(ctx, payload); err != nil {
			lastErr = err
			c.logger.Warn("Delivery attempt %d failed: %v", attempt, err)
			continue
		}
		return attempt, nil
	}

	return c.opts.MaxAttempts, lastErr
}

func (c *Coordinator) consentGiven() bool {
	value := c.form.GetStepData(schema.StepPrivacy)[ConsentField]
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "on"
	default:
		return false
	}
}

// startTickerLocked begins the cosmetic progress sequence. Caller holds mu.
func (c *Coordinator) startTickerLocked() {
	c.tickerMessage = tickerMessages[0]
	if c.opts.TickerInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.tickerStop = stop

	go func() {
		ticker := time.NewTicker(c.opts.TickerInterval)
		defer ticker.Stop()
		index := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				if index < len(tickerMessages)-1 {
					index++
					c.tickerMessage = tickerMessages[index]
				}
				// Hold on the last message.
				c.mu.Unlock()
			}
		}
	}()
}

// stopTickerLocked ends the progress sequence. Caller holds mu.
func (c *Coordinator) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
	c.tickerMessage = ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("cancelled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
