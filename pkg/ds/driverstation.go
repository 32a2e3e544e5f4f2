package ds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dslink/pkg/protocol"
	"dslink/pkg/transport"
)

// ErrNotConnected is reported by Status when no connection was ever made.
var ErrNotConnected = errors.New("driver station not connected")

// teardownWait bounds how long Connect waits for a previous worker to
// release the fixed local ports.
const teardownWait = 250 * time.Millisecond

type Option func(*DriverStation)

func WithLogger(l *zap.Logger) Option {
	return func(d *DriverStation) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMetrics(m *transport.Metrics) Option {
	return func(d *DriverStation) {
		d.metrics = m
	}
}

// WithInbound forwards every decoded robot frame to fn. fn runs on the
// connection worker and must not block.
func WithInbound(fn func(protocol.Inbound)) Option {
	return func(d *DriverStation) {
		d.inbound = fn
	}
}

// WithTransportOptions appends options passed to every transport.Dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(d *DriverStation) {
		d.transportOpts = append(d.transportOpts, opts...)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(d *DriverStation) {
		d.clock = clock
	}
}

func WithInitialState(s State) Option {
	return func(d *DriverStation) {
		d.initial = &s
	}
}

// DriverStation is the foreground handle: it owns the commanded state and
// at most one live connection.
type DriverStation struct {
	log           *zap.Logger
	metrics       *transport.Metrics
	inbound       func(protocol.Inbound)
	transportOpts []transport.Option
	clock         func() time.Time
	initial       *State

	state *SharedState
	dial  func(context.Context, string, transport.State, ...transport.Option) (*transport.Conn, error)

	connectMu sync.Mutex
	mu        sync.Mutex
	conn      *transport.Conn
}

func New(opts ...Option) *DriverStation {
	d := &DriverStation{log: zap.NewNop(), dial: transport.Dial}
	for _, opt := range opts {
		opt(d)
	}
	st := NewState()
	if d.initial != nil {
		st = d.initial.clone()
	}
	d.state = NewSharedState(st, d.clock)
	return d
}

// Connect tears down any previous connection and dials address. Concurrent
// Connect calls are serialized; the other methods never wait on a dial.
func (d *DriverStation) Connect(ctx context.Context, address string) error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	d.mu.Lock()
	old := d.conn
	d.conn = nil
	d.mu.Unlock()

	if old != nil {
		old.Disconnect()
		select {
		case <-old.Done():
		case <-time.After(teardownWait):
			d.log.Warn("previous connection still shutting down", zap.String("address", address))
		}
	}

	opts := []transport.Option{
		transport.WithLogger(d.log.Named("transport")),
		transport.WithMetrics(d.metrics),
		transport.WithInbound(d.inbound),
	}
	opts = append(opts, d.transportOpts...)
	conn, err := d.dial(ctx, address, d.state, opts...)
	if err != nil {
		return fmt.Errorf("connect %s: %w", address, err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

func (d *DriverStation) current() *transport.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func (d *DriverStation) IsConnected() bool {
	c := d.current()
	return c != nil && c.IsConnected()
}

// Status is nil while the link is healthy. It returns the transport error
// that ended the connection, then transport.ErrAborted.
func (d *DriverStation) Status() error {
	c := d.current()
	if c == nil {
		return ErrNotConnected
	}
	return c.Status()
}

// Disconnect signals the worker to stop without waiting for it.
func (d *DriverStation) Disconnect() {
	if c := d.current(); c != nil {
		c.Disconnect()
	}
}

// Close stops the connection and waits for its sockets to be released.
func (d *DriverStation) Close() error {
	d.mu.Lock()
	c := d.conn
	d.conn = nil
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (d *DriverStation) update(fn func(*State) error) error {
	return d.state.Update(fn)
}

func (d *DriverStation) SetEnabled(enabled bool) {
	_ = d.update(func(s *State) error {
		s.Enabled = enabled
		return nil
	})
}

func (d *DriverStation) SetEstop(estop bool) {
	_ = d.update(func(s *State) error {
		s.Estop = estop
		return nil
	})
}

func (d *DriverStation) SetMode(mode protocol.Mode) {
	_ = d.update(func(s *State) error {
		s.Mode = mode
		return nil
	})
}

func (d *DriverStation) SetAlliance(a protocol.Alliance) error {
	if _, err := protocol.NewAlliance(a.Color, a.Position); err != nil {
		return err
	}
	return d.update(func(s *State) error {
		s.Alliance = a
		return nil
	})
}

// SetGameData stores the game data string and, when connected, sends it to
// the robot right away.
func (d *DriverStation) SetGameData(data string) error {
	_ = d.update(func(s *State) error {
		s.GameData = data
		return nil
	})
	return d.sendTag(protocol.GameData{Data: data})
}

func (d *DriverStation) SetMatchInfo(competition string, matchType protocol.MatchType) error {
	info := protocol.MatchInfo{Competition: competition, MatchType: matchType}
	_ = d.update(func(s *State) error {
		s.MatchInfo = info
		return nil
	})
	return d.sendTag(info)
}

func (d *DriverStation) sendTag(tag protocol.Tag) error {
	c := d.current()
	if c == nil {
		return nil
	}
	// tags queued during establish may repeat; a finished worker replays
	// state on the next connect
	if err := c.SendTag(tag); err != nil && !errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("send tag 0x%02x: %w", tag.ID(), err)
	}
	return nil
}

func (d *DriverStation) SetJoystick(slot int, j *Joystick) error {
	return d.update(func(s *State) error {
		return s.SetJoystick(slot, j)
	})
}

func (d *DriverStation) ClearJoystick(slot int) error {
	return d.update(func(s *State) error {
		return s.SetJoystick(slot, nil)
	})
}

// RestartCode asks the robot to restart its user program.
func (d *DriverStation) RestartCode() {
	d.request(protocol.RequestRestartRobotCode)
}

func (d *DriverStation) RebootRoborio() {
	d.request(protocol.RequestRebootRoborio)
}

func (d *DriverStation) request(r protocol.Request) {
	_ = d.update(func(s *State) error {
		s.Request |= r
		return nil
	})
}

// State returns a copy of the commanded state.
func (d *DriverStation) State() State {
	return d.state.Snapshot()
}

func (d *DriverStation) LastTelemetry() (protocol.Telemetry, bool) {
	return d.state.LastTelemetry()
}
