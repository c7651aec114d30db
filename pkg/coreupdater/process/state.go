package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Status is the lifecycle state of a process.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further steps will run.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Status machine events.
const (
	eventStart    = "start"
	eventComplete = "complete"
	eventFail     = "fail"
)

var statusEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(StatusPending), string(StatusInProgress)}, Dst: string(StatusInProgress)},
	{Name: eventComplete, Src: []string{string(StatusPending), string(StatusInProgress)}, Dst: string(StatusDone)},
	{Name: eventFail, Src: []string{string(StatusPending), string(StatusInProgress)}, Dst: string(StatusFailed)},
}

var (
	machineMu     sync.Mutex
	statusMachine = fsm.NewFSM(string(StatusPending), statusEvents, fsm.Callbacks{})
)

// External describes an action the caller must perform before the process
// can continue, such as invoking a generated update script.
type External struct {
	Action string            `json:"action"`
	Target string            `json:"target"`
	Args   map[string]string `json:"args,omitempty"`
}

// State is the persisted record of one process.
type State struct {
	ID        string                     `json:"id"`
	Process   string                     `json:"process"`
	Settings  json.RawMessage            `json:"settings"`
	Steps     []Envelope                 `json:"steps"`
	Cursor    int                        `json:"cursor"`
	Data      map[string]json.RawMessage `json:"data,omitempty"`
	Status    Status                     `json:"status"`
	Error     string                     `json:"error,omitempty"`
	Details   string                     `json:"details,omitempty"`
	External  *External                  `json:"external,omitempty"`
	Result    json.RawMessage            `json:"result,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Progress returns the completed fraction of steps in [0, 1].
func (s *State) Progress() float64 {
	if s.Status == StatusDone {
		return 1
	}
	if len(s.Steps) == 0 {
		return 0
	}
	return float64(s.Cursor) / float64(len(s.Steps))
}

// NeedsExternal reports whether the caller has to act before the next call.
func (s *State) NeedsExternal() bool {
	return s.External != nil
}

// DataValue decodes a value accumulated by earlier steps.
func (s *State) DataValue(key string, out any) (bool, error) {
	raw, ok := s.Data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decoding data %q: %w", key, err)
	}
	return true, nil
}

// fire applies event to the status through the shared machine. Events
// not allowed from the current status fail with ErrInvalidTransition.
func (s *State) fire(event string) error {
	machineMu.Lock()
	defer machineMu.Unlock()

	statusMachine.SetState(string(s.Status))
	err := statusMachine.Event(context.Background(), event)

	var noTransition fsm.NoTransitionError
	switch {
	case err == nil:
	case errors.As(err, &noTransition):
		// start while in progress keeps the status.
	default:
		return fmt.Errorf("%w: process %s: %s from %s: %v", ErrInvalidTransition, s.ID, event, s.Status, err)
	}
	s.Status = Status(statusMachine.Current())
	return nil
}
