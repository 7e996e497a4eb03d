package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
	"github.com/ericfisherdev/keyvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ Handle                        = (*Supervisor)(nil)
	_ driven.ConnectionStatusReader = (*Supervisor)(nil)
)

// DefaultRetryDelay is the fixed pause between connection attempts.
const DefaultRetryDelay = 5 * time.Second

// Event is a connection lifecycle signal delivered to the Supervisor.
type Event int

const (
	// EventDisconnected reports that the connection was lost.
	EventDisconnected Event = iota
	// EventError reports that the connection failed and must be discarded.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Dialer opens a new database connection.
type Dialer func(ctx context.Context) (*DB, error)

// Bootstrapper prepares a freshly opened connection. It must be idempotent.
type Bootstrapper func(ctx context.Context, db *DB) error

type signal struct {
	event Event
	err   error
}

// Supervisor owns the process-wide database handle. It connects, bootstraps
// the schema and indexes, and reconnects after a fixed delay whenever the
// connection is reported lost or fails a ping. It never gives up.
type Supervisor struct {
	path      string
	dial      Dialer
	bootstrap Bootstrapper
	delay     time.Duration
	probe     time.Duration
	logger    *slog.Logger
	events    chan signal

	mu     sync.RWMutex
	db     *DB
	status model.ConnectionStatus
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithDialer replaces the default file-backed dialer.
func WithDialer(d Dialer) SupervisorOption {
	return func(s *Supervisor) { s.dial = d }
}

// WithBootstrap replaces the default migrations-then-indexes bootstrap.
func WithBootstrap(b Bootstrapper) SupervisorOption {
	return func(s *Supervisor) { s.bootstrap = b }
}

// WithRetryDelay sets the fixed delay between connection attempts.
func WithRetryDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.delay = d }
}

// WithProbeInterval enables a periodic ping. Zero disables probing.
func WithProbeInterval(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.probe = d }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

// NewSupervisor creates a Supervisor for the database at path. Nothing is
// opened until Run is called.
func NewSupervisor(path string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		path:      path,
		bootstrap: Bootstrap,
		delay:     DefaultRetryDelay,
		logger:    slog.Default(),
		events:    make(chan signal, 4),
		status: model.ConnectionStatus{
			State: model.ConnStateDisconnected,
			Path:  path,
		},
	}
	s.dial = func(ctx context.Context) (*DB, error) {
		return NewDB(ctx, s.path)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the live connection, or driven.ErrStorageUnavailable while
// the supervisor has none.
func (s *Supervisor) Current() (*DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, driven.ErrStorageUnavailable
	}
	return s.db, nil
}

// Status returns a snapshot of the connection state.
func (s *Supervisor) Status() model.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Signal delivers a lifecycle event. It never blocks; when signals are
// already queued the new one is dropped, since every queued signal leads to
// the same reconnect.
func (s *Supervisor) Signal(event Event, err error) {
	select {
	case s.events <- signal{event: event, err: err}:
	default:
		s.logger.Debug("storage signal dropped, reconnect already pending", "event", event.String())
	}
}

// Report implements Handle. Repositories call it when a query fails on a
// closed connection; the supervisor treats it as EventError.
func (s *Supervisor) Report(err error) {
	s.Signal(EventError, err)
}

// Run connects and then supervises the connection until ctx is canceled, at
// which point the connection is closed gracefully. Run blocks.
func (s *Supervisor) Run(ctx context.Context) {
	if err := s.connect(ctx); err != nil {
		s.logger.Info("storage supervisor stopped before connecting", "error", err)
		return
	}

	var probeC <-chan time.Time
	if s.probe > 0 {
		ticker := time.NewTicker(s.probe)
		defer ticker.Stop()
		probeC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-probeC:
			if err := s.ping(ctx); err != nil && ctx.Err() == nil {
				s.Signal(EventError, err)
			}
		case sig := <-s.events:
			switch sig.event {
			case EventError:
				s.handleError(sig.err)
			default:
				s.handleDisconnected()
			}
			s.reconnect(ctx)
		}
	}
}

// connect dials until it succeeds or ctx is canceled, waiting the fixed delay
// between attempts.
func (s *Supervisor) connect(ctx context.Context) error {
	attempt := func() error {
		s.setState(model.ConnStateConnecting)

		db, err := s.dial(ctx)
		if err != nil {
			return err
		}

		// Index bootstrap failures leave the connection usable; the next
		// reconnect will try again.
		if err := s.bootstrap(ctx, db); err != nil {
			s.logger.Error("storage bootstrap failed", "path", s.path, "error", err)
		}

		s.drainSignals()
		s.publish(db)
		return nil
	}

	notify := func(err error, next time.Duration) {
		s.mu.Lock()
		s.status.State = model.ConnStateDisconnected
		s.status.LastError = err.Error()
		s.mu.Unlock()
		s.logger.Error("storage connection failed, retrying", "path", s.path, "error", err, "retry_in", next)
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.delay), ctx)
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		s.setState(model.ConnStateDisconnected)
		return err
	}

	s.logger.Info("storage connected", "path", s.path)
	return nil
}

// reconnect waits the fixed delay and then connects again.
func (s *Supervisor) reconnect(ctx context.Context) {
	s.logger.Info("storage reconnect scheduled", "path", s.path, "delay", s.delay)

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if err := s.connect(ctx); err != nil {
		return
	}

	s.mu.Lock()
	s.status.Reconnects++
	s.mu.Unlock()
}

func (s *Supervisor) handleError(err error) {
	s.logger.Error("storage connection error", "path", s.path, "error", err)

	s.mu.Lock()
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.mu.Unlock()

	s.release()
}

func (s *Supervisor) handleDisconnected() {
	s.logger.Warn("storage disconnected", "path", s.path)
	s.release()
}

// release force-closes the current handle, if any.
func (s *Supervisor) release() {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.status.State = model.ConnStateDisconnecting
	s.mu.Unlock()

	if db != nil {
		if err := db.Close(); err != nil {
			s.logger.Warn("closing storage connection", "path", s.path, "error", err)
		}
	}

	s.setState(model.ConnStateDisconnected)
}

func (s *Supervisor) shutdown() {
	s.release()
	s.logger.Info("storage disconnected through app termination", "path", s.path)
}

func (s *Supervisor) ping(ctx context.Context) error {
	db, err := s.Current()
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.delay)
	defer cancel()

	if err := db.Ping(pingCtx); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	return nil
}

func (s *Supervisor) publish(db *DB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db = db
	s.status.State = model.ConnStateConnected
	s.status.ConnectedAt = time.Now().UTC()
	s.status.LastError = ""
}

func (s *Supervisor) setState(state model.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
}

// drainSignals discards signals raised against the previous connection.
func (s *Supervisor) drainSignals() {
	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}
