package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// State is the breaker state
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Counts holds the request counts of the current generation
type Counts = gobreaker.Counts

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxRequests is the number of probe requests allowed while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts periodically; 0 means 60s
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open
	ReadyToTrip func(counts Counts) bool
	// IsFailure classifies an error; nil means every non-nil error counts
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Breaker guards calls to one downstream dependency
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// New creates a circuit breaker. Zero settings fall back to one half-open
// probe, a 60s count interval, a 60s open timeout and tripping after more
// than five consecutive failures.
func New(name string, settings Settings) *Breaker {
	if settings.Interval == 0 {
		settings.Interval = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures > 5
		}
	}
	isFailure := settings.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:          name,
			MaxRequests:   settings.MaxRequests,
			Interval:      settings.Interval,
			Timeout:       settings.Timeout,
			ReadyToTrip:   settings.ReadyToTrip,
			OnStateChange: settings.OnStateChange,
			IsSuccessful: func(err error) bool {
				return !isFailure(err)
			},
		}),
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	return b.cb.State()
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	return b.cb.Counts()
}

// Run executes fn through the breaker and returns its typed result. A panic
// in fn counts as a failure and is re-raised.
func Run[T any](b *Breaker, fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (any, error) {
		result, err := fn()
		return result, err
	})

	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, err
	}
	return result, err
}

// Execute runs fn if the circuit breaker accepts it
func (b *Breaker) Execute(fn func() error) error {
	_, err := Run(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
