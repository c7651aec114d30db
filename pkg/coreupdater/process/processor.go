// Package process runs long workflows as a persisted list of short steps.
//
// A Handler plans every step up front when a process starts. Each call to
// Processor.Process then loads the state, executes exactly the step at the
// cursor and persists the outcome before returning, so a crash or lost
// response costs at most the in-flight step. Callers loop until the state
// is terminal or their time budget runs out, see Run.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/storage"
)

var (
	// ErrUnknownProcess is returned for ids with no persisted state.
	ErrUnknownProcess = errors.New("unknown process")

	// ErrNotDone is returned by Result before the process completed.
	ErrNotDone = errors.New("process has not completed")

	// ErrConcurrentUpdate is returned when the state changed while a step
	// was executing, meaning two callers drove the same id.
	ErrConcurrentUpdate = errors.New("process state changed concurrently")

	// ErrInvalidTransition is returned when a status change is not allowed,
	// such as completing a process that already failed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DefaultTTL is how long idle process state is kept.
const DefaultTTL = 24 * time.Hour

// Handler supplies the steps of one kind of process.
type Handler[S any] interface {
	// Name identifies the process kind and namespaces its storage.
	Name() string

	// StepTypes returns a zero value of every step variant the handler
	// plans, used to decode persisted steps.
	StepTypes() []Step

	// Plan generates the complete step list. It may prepare the environment
	// (create or clear directories) and runs exactly once per process.
	Plan(ctx context.Context, id string, settings S) ([]Step, error)

	// Execute performs one step.
	Execute(ctx context.Context, run *StepRun[S], step Step) Result

	// Describe returns a human readable description of a step.
	Describe(step Step) string
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeAwait
)

// Result is the outcome of executing one step.
type Result struct {
	outcome  outcome
	Message  string
	Details  string
	External *External
}

// Done advances the cursor.
func Done() Result {
	return Result{outcome: outcomeDone}
}

// DoneThen advances the cursor and asks the caller to perform ext before
// the next call.
func DoneThen(ext External) Result {
	return Result{outcome: outcomeDone, External: &ext}
}

// Failed ends the process with a short message and diagnostic details.
func Failed(message, details string) Result {
	return Result{outcome: outcomeFailed, Message: message, Details: details}
}

// Failedf is Failed with a formatted message and no details.
func Failedf(format string, args ...any) Result {
	return Failed(fmt.Sprintf(format, args...), "")
}

// FailedErr ends the process with err as the message.
func FailedErr(err error, details string) Result {
	return Failed(err.Error(), details)
}

// Await keeps the cursor in place until the caller performed ext. The step
// runs again on the next call and decides whether the action completed.
func Await(ext External) Result {
	return Result{outcome: outcomeAwait, External: &ext}
}

// IsFailure reports whether r fails the process.
func (r Result) IsFailure() bool {
	return r.outcome == outcomeFailed
}

// StepRun is the per-call view of a process handed to a step.
type StepRun[S any] struct {
	ID       string
	Settings S
	Index    int
	Total    int

	data    map[string]json.RawMessage
	changed map[string]json.RawMessage
	result  json.RawMessage
}

// Get decodes accumulated data stored under key.
func (r *StepRun[S]) Get(key string, out any) (bool, error) {
	raw, ok := r.changed[key]
	if !ok {
		raw, ok = r.data[key]
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decoding data %q: %w", key, err)
	}
	return true, nil
}

// Set records data for later steps. It is persisted with the step outcome,
// including when the step fails.
func (r *StepRun[S]) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding data %q: %w", key, err)
	}
	r.changed[key] = raw
	return nil
}

// SetResult stores the final result of the process.
func (r *StepRun[S]) SetResult(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	r.result = raw
	return nil
}

// Option configures a Processor.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the state expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Processor drives processes of one handler. It holds no state of its own
// beyond the storage handle, so any number of processors may be created
// over the same backend.
type Processor[S any] struct {
	handler Handler[S]
	bucket  *storage.Bucket
	codec   *codec
	now     func() time.Time
	logger  *logging.Logger
}

// New creates a processor for handler persisting into backend.
func New[S any](backend storage.Backend, handler Handler[S], opts ...Option) (*Processor[S], error) {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := newCodec(handler.StepTypes())
	if err != nil {
		return nil, err
	}

	return &Processor[S]{
		handler: handler,
		bucket:  storage.NewBucket(backend, "process."+handler.Name(), o.ttl),
		codec:   c,
		now:     o.now,
		logger:  logging.Get("process").With("process", handler.Name()),
	}, nil
}

// Name returns the handler name.
func (p *Processor[S]) Name() string {
	return p.handler.Name()
}

// Start plans a new process and returns its id.
func (p *Processor[S]) Start(ctx context.Context, settings S) (string, error) {
	id := uuid.NewString()

	raw, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("encoding settings: %w", err)
	}

	steps, err := p.handler.Plan(ctx, id, settings)
	if err != nil {
		return "", fmt.Errorf("planning %s: %w", p.handler.Name(), err)
	}

	envelopes := make([]Envelope, len(steps))
	for i, s := range steps {
		if envelopes[i], err = p.codec.encode(s); err != nil {
			return "", err
		}
	}

	now := p.now()
	st := State{
		ID:        id,
		Process:   p.handler.Name(),
		Settings:  raw,
		Steps:     envelopes,
		Data:      map[string]json.RawMessage{},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.bucket.Save(id, st); err != nil {
		return "", fmt.Errorf("saving process state: %w", err)
	}

	p.logger.Info("process started", "id", id, "steps", len(steps))
	return id, nil
}

// Load returns the persisted state of id.
func (p *Processor[S]) Load(id string) (*State, error) {
	var st State
	if err := p.bucket.Load(id, &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, id)
		}
		return nil, err
	}
	return &st, nil
}

// Process executes the step at the cursor and persists the outcome.
// Terminal processes are returned unchanged.
func (p *Processor[S]) Process(ctx context.Context, id string) (*State, error) {
	st, err := p.Load(id)
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return st, nil
	}

	next := *st
	next.External = nil
	if next.Data == nil {
		next.Data = map[string]json.RawMessage{}
	}

	if next.Cursor >= len(next.Steps) {
		if err := next.fire(eventComplete); err != nil {
			return nil, err
		}
		return p.commit(st, &next)
	}

	step, err := p.codec.decode(next.Steps[next.Cursor])
	if err != nil {
		return nil, err
	}

	var settings S
	if err := json.Unmarshal(next.Settings, &settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	run := &StepRun[S]{
		ID:       id,
		Settings: settings,
		Index:    next.Cursor,
		Total:    len(next.Steps),
		data:     st.Data,
		changed:  map[string]json.RawMessage{},
	}

	started := p.now()
	result := p.handler.Execute(ctx, run, step)

	for k, v := range run.changed {
		next.Data[k] = v
	}
	if run.result != nil {
		next.Result = run.result
	}

	log := p.logger.With("id", id, "step", step.Kind(), "index", next.Cursor)

	switch result.outcome {
	case outcomeFailed:
		next.Error = result.Message
		next.Details = result.Details
		if err := next.fire(eventFail); err != nil {
			return nil, err
		}
		log.Error("step failed", "error", result.Message)

	case outcomeAwait:
		next.External = result.External
		if err := next.fire(eventStart); err != nil {
			return nil, err
		}
		log.Info("step awaiting external action", "action", result.External.Action)

	default:
		next.Cursor++
		next.External = result.External
		event := eventStart
		if next.Cursor >= len(next.Steps) {
			event = eventComplete
		}
		if err := next.fire(event); err != nil {
			return nil, err
		}
		log.Debug("step done", "elapsed", p.now().Sub(started))
	}

	return p.commit(st, &next)
}

// commit writes next if the stored state still matches what was loaded.
func (p *Processor[S]) commit(loaded, next *State) (*State, error) {
	next.UpdatedAt = p.now()

	err := storage.Update(p.bucket, next.ID, func(cur *State, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownProcess, next.ID)
		}
		if cur.Cursor != loaded.Cursor || cur.Status != loaded.Status {
			return ErrConcurrentUpdate
		}
		*cur = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Describe returns what the next call to Process will do.
func (p *Processor[S]) Describe(id string) (string, error) {
	st, err := p.Load(id)
	if err != nil {
		return "", err
	}
	switch {
	case st.Status == StatusDone:
		return "Done", nil
	case st.Status == StatusFailed:
		return "Failed: " + st.Error, nil
	case st.Cursor >= len(st.Steps):
		return "Finishing", nil
	}

	step, err := p.codec.decode(st.Steps[st.Cursor])
	if err != nil {
		return "", err
	}
	return p.handler.Describe(step), nil
}

// Result decodes the result of a completed process into out.
func (p *Processor[S]) Result(id string, out any) error {
	st, err := p.Load(id)
	if err != nil {
		return err
	}
	if st.Status != StatusDone {
		return fmt.Errorf("%w: %s is %s", ErrNotDone, id, st.Status)
	}
	if len(st.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(st.Result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// Delete removes the persisted state of id.
func (p *Processor[S]) Delete(id string) error {
	return p.bucket.Delete(id)
}

// List returns the ids of all live processes of this kind.
func (p *Processor[S]) List() ([]string, error) {
	return p.bucket.Keys()
}
