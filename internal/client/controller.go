package client

import (
	"context"
	"errors"
	"slices"
	"sync"

	"bloomxr.dev/meshstudio/internal/relay"
)

const (
	msgNoInput      = "No files provided for generation."
	msgUnknownError = "An unknown error occurred during generation."
)

// ErrBusy is returned by GenerateModel while a generation is in flight.
var ErrBusy = errors.New("a generation is already in progress")

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInFlight
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInFlight:
		return "in_flight"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Result is a successful generation.
type Result struct {
	MeshURL string
	Seed    int64
}

// State is a snapshot of the controller. Result is set only when Phase is
// PhaseSucceeded; Message and Kind only when it is PhaseFailed.
type State struct {
	Phase   Phase
	Result  *Result
	Message string
	Kind    relay.Kind
}

func (s State) IsLoading() bool { return s.Phase == PhaseInFlight }

func (s State) clone() State {
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

// Relay is the subset of RelayClient the controller needs.
type Relay interface {
	Generate(ctx context.Context, files []Upload) (*GenerateResponse, error)
	ProxyURL(meshURL string) string
}

type Option func(*Controller)

// WithObserver registers fn to receive every new state. Observers run
// outside the controller's lock, in the goroutine that caused the
// transition. A panic in fn is swallowed.
func WithObserver(fn func(State)) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// Controller owns the upload selection and the generation state of one
// session. State only changes through its methods.
type Controller struct {
	relay     Relay
	observers []func(State)

	mu    sync.Mutex
	files []Upload
	state State
}

func NewController(r Relay, opts ...Option) *Controller {
	c := &Controller{relay: r}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetUploadedFiles replaces the current selection.
func (c *Controller) SetUploadedFiles(files []Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = slices.Clone(files)
}

func (c *Controller) UploadedFiles() []Upload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.files)
}

// Snapshot returns a copy of the current state; changing it does not affect
// the controller.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) IsLoading() bool {
	return c.Snapshot().IsLoading()
}

// ProxyURL is the viewer URL for the current result, or "" when there is
// none.
func (c *Controller) ProxyURL() string {
	s := c.Snapshot()
	if s.Phase != PhaseSucceeded || s.Result == nil {
		return ""
	}
	return c.relay.ProxyURL(s.Result.MeshURL)
}

// ClearError returns a failed controller to idle. Other phases are left
// alone.
func (c *Controller) ClearError() {
	c.mu.Lock()
	if c.state.Phase != PhaseFailed {
		c.mu.Unlock()
		return
	}
	c.commitAndUnlock(State{Phase: PhaseIdle})
}

// GenerateModel sends files to the generation relay and returns the terminal
// state. Empty input fails without a network call. A call made while another
// generation is in flight returns the current state and ErrBusy. Failures
// never escape as errors or panics; they end in PhaseFailed.
func (c *Controller) GenerateModel(ctx context.Context, files []Upload) (st State, err error) {
	c.mu.Lock()
	if c.state.Phase == PhaseInFlight {
		s := c.state
		c.mu.Unlock()
		return s, ErrBusy
	}
	if len(files) == 0 {
		return c.commitAndUnlock(State{Phase: PhaseFailed, Kind: relay.KindNoInput, Message: msgNoInput}), nil
	}
	inFlight := State{Phase: PhaseInFlight}
	c.state = inFlight
	c.mu.Unlock()

	// Leaving InFlight happens here on every path, panics included.
	next := State{Phase: PhaseFailed, Kind: relay.KindUnknown, Message: msgUnknownError}
	defer func() {
		if r := recover(); r != nil {
			next = State{Phase: PhaseFailed, Kind: relay.KindUnknown, Message: msgUnknownError}
		}
		c.mu.Lock()
		st = c.commitAndUnlock(next)
	}()
	c.notify(inFlight)

	resp, genErr := c.relay.Generate(ctx, slices.Clone(files))
	switch {
	case genErr != nil:
		next = State{Phase: PhaseFailed, Kind: relay.KindOf(genErr), Message: genErr.Error()}
		if next.Message == "" {
			next.Message = msgUnknownError
		}
	case resp == nil || resp.ModelURL == "":
		next = State{Phase: PhaseFailed, Kind: relay.KindResponseShape, Message: "API response missing modelUrl"}
	default:
		next = State{Phase: PhaseSucceeded, Result: &Result{MeshURL: resp.ModelURL, Seed: resp.Seed}}
	}
	return next, nil
}

// commitAndUnlock stores s, releases c.mu and notifies observers. The caller
// must hold c.mu.
func (c *Controller) commitAndUnlock(s State) State {
	c.state = s
	c.mu.Unlock()

	c.notify(s)
	return s.clone()
}

// notify hands each observer its own copy of s. A panicking observer is
// skipped so it cannot leave the controller mid-transition.
func (c *Controller) notify(s State) {
	for _, fn := range c.observers {
		func() {
			defer func() { _ = recover() }()
			fn(s.clone())
		}()
	}
}
