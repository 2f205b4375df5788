package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"github.com/angeloszaimis/forward-proxy/internal/circuitbreaker"
)

// ErrCircuitOpen is returned by Dial while the breaker rejects dials.
var ErrCircuitOpen = errors.New("upstream circuit open")

const ewmaAlpha = 0.2

// Upstream is the backend server with health status, relay tracking and
// exchange time monitoring.
type Upstream struct {
	address          string
	dialer           transport.StreamDialer
	breaker          *circuitbreaker.CircuitBreaker
	mutex            sync.Mutex
	isHealthy        bool
	activeRelays     int
	ewmaExchangeTime time.Duration
	hasEWMA          bool
}

type Option func(*Upstream)

// WithDialer replaces the default TCP dialer.
func WithDialer(d transport.StreamDialer) Option {
	return func(u *Upstream) {
		u.dialer = d
	}
}

// WithBreaker guards Dial with cb.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(u *Upstream) {
		u.breaker = cb
	}
}

// New creates an Upstream for address ("host:port"). It starts healthy, dials
// plain TCP and has no breaker unless options say otherwise.
func New(address string, opts ...Option) *Upstream {
	u := &Upstream{
		address:   address,
		dialer:    &transport.TCPDialer{},
		breaker:   circuitbreaker.New(0, 0),
		isHealthy: true,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Address returns the host:port the upstream is dialed at.
func (u *Upstream) Address() string {
	return u.address
}

// Breaker returns the circuit breaker guarding Dial.
func (u *Upstream) Breaker() *circuitbreaker.CircuitBreaker {
	return u.breaker
}

// Dial opens a new stream connection to the upstream. One connection is
// opened per relayed request; nothing is pooled.
func (u *Upstream) Dial(ctx context.Context) (transport.StreamConn, error) {
	if !u.breaker.Allow() {
		return nil, fmt.Errorf("dial %s: %w", u.address, ErrCircuitOpen)
	}

	conn, err := u.dialer.DialStream(ctx, u.address)
	if err != nil {
		u.breaker.RecordFailure()
		return nil, fmt.Errorf("dial %s: %w", u.address, err)
	}

	u.breaker.RecordSuccess()
	return conn, nil
}

// Probe dials and immediately closes a connection. It bypasses the breaker
// so that health checks keep running while it is open.
func (u *Upstream) Probe(ctx context.Context) error {
	conn, err := u.dialer.DialStream(ctx, u.address)
	if err != nil {
		return fmt.Errorf("probe %s: %w", u.address, err)
	}
	return conn.Close()
}

// IncrementConn increments the active relay count.
func (u *Upstream) IncrementConn() {
	u.mutex.Lock()
	u.activeRelays++
	u.mutex.Unlock()
}

// DecrementConn decrements the active relay count.
func (u *Upstream) DecrementConn() {
	u.mutex.Lock()
	if u.activeRelays > 0 {
		u.activeRelays--
	}
	u.mutex.Unlock()
}

// ActiveConnections returns the number of relays currently using the upstream.
func (u *Upstream) ActiveConnections() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.activeRelays
}

// IsHealthy returns true if the upstream is currently healthy.
func (u *Upstream) IsHealthy() bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return u.isHealthy
}

// SetHealthy updates the health status.
// Returns true if the status changed, false if it was already in that state.
func (u *Upstream) SetHealthy(healthy bool) (changed bool) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.isHealthy == healthy {
		return false
	}

	u.isHealthy = healthy
	return true
}

// RecordExchange folds the duration of one relayed exchange into the EWMA.
func (u *Upstream) RecordExchange(duration time.Duration) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		u.ewmaExchangeTime = duration
		u.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	u.ewmaExchangeTime = time.Duration((1-ewmaAlpha)*float64(u.ewmaExchangeTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the moving average exchange time, or 0 before the first
// exchange.
func (u *Upstream) EWMATime() time.Duration {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if !u.hasEWMA {
		return 0
	}

	return u.ewmaExchangeTime
}
