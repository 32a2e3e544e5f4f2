package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dslink/pkg/protocol"
)

const (
	udpReadBufSize = 1500
	tcpReadBufSize = 4096
)

var (
	// ErrAborted reports that the worker is gone and its error channel closed.
	ErrAborted = errors.New("connection worker not running")
	ErrClosed  = errors.New("connection closed")
	ErrBusy    = errors.New("command queue full")
)

// Conn owns the sockets to one robot and the goroutine that polls them.
type Conn struct {
	host    string
	state   State
	log     *zap.Logger
	metrics *Metrics
	inbound func(protocol.Inbound)

	controlPort      int
	controlLocalPort int
	telemetryPort    int
	tcpPort          int
	dialTimeout      time.Duration
	writeTimeout     time.Duration
	pollInterval     time.Duration
	cadence          cadence

	control   *net.UDPConn
	telemetry *net.UDPConn
	tcp       net.Conn
	frames    protocol.FrameBuffer
	udpBuf    []byte
	tcpBuf    []byte

	signals  chan protocol.Tag
	stop     chan struct{}
	stopOnce sync.Once
	errs     chan error
	done     chan struct{}
	status   atomic.Int32
}

// Dial opens the control, telemetry and TCP sockets to host and starts the
// worker. ctx only bounds socket setup; the worker runs until Disconnect or
// a transport error.
func Dial(ctx context.Context, host string, state State, opts ...Option) (*Conn, error) {
	c := &Conn{
		host:             host,
		state:            state,
		log:              zap.NewNop(),
		controlPort:      ControlPort,
		controlLocalPort: ControlLocalPort,
		telemetryPort:    TelemetryPort,
		tcpPort:          TCPPort,
		dialTimeout:      DefaultDialTimeout,
		writeTimeout:     DefaultWriteTimeout,
		pollInterval:     DefaultPollInterval,
		cadence:          cadence{interval: DefaultCadence},
		udpBuf:           make([]byte, udpReadBufSize),
		tcpBuf:           make([]byte, tcpReadBufSize),
		signals:          make(chan protocol.Tag, DefaultSignalBuffer),
		stop:             make(chan struct{}),
		errs:             make(chan error, 1),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.status.Store(int32(StateConnecting))
	if err := c.open(ctx); err != nil {
		c.closeSockets()
		c.status.Store(int32(StateDisconnected))
		return nil, err
	}

	go c.run()
	return c, nil
}

func (c *Conn) open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	tcpAddr := net.JoinHostPort(c.host, strconv.Itoa(c.tcpPort))
	tcp, err := dialer.DialContext(ctx, "tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("dial tcp %s: %w", tcpAddr, err)
	}
	c.tcp = tcp

	peer, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.host, strconv.Itoa(c.controlPort)))
	if err != nil {
		return fmt.Errorf("resolve control address: %w", err)
	}
	control, err := net.DialUDP("udp", &net.UDPAddr{Port: c.controlLocalPort}, peer)
	if err != nil {
		return fmt.Errorf("open control socket: %w", err)
	}
	c.control = control

	telemetry, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.telemetryPort})
	if err != nil {
		return fmt.Errorf("bind telemetry port %d: %w", c.telemetryPort, err)
	}
	c.telemetry = telemetry
	return nil
}

// Disconnect asks the worker to stop. It never blocks and is safe to call
// after the worker has exited.
func (c *Conn) Disconnect() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Close disconnects and waits for the worker to release its sockets.
func (c *Conn) Close() error {
	c.Disconnect()
	<-c.done
	return nil
}

// Done is closed once the worker has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// SendTag queues a TCP tag to be written ahead of the periodic cadence.
func (c *Conn) SendTag(tag protocol.Tag) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.signals <- tag:
		return nil
	default:
		return ErrBusy
	}
}

// Status returns nil while healthy, the queued transport error if one is
// pending, and ErrAborted once the worker has gone away.
func (c *Conn) Status() error {
	select {
	case err, ok := <-c.errs:
		if !ok {
			return ErrAborted
		}
		return err
	default:
		return nil
	}
}

func (c *Conn) State() ConnectionState {
	return ConnectionState(c.status.Load())
}

func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// TelemetryAddr is the local address telemetry is received on.
func (c *Conn) TelemetryAddr() net.Addr {
	return c.telemetry.LocalAddr()
}

func (c *Conn) run() {
	defer c.finish()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection worker panicked", zap.Any("panic", r))
		}
	}()

	if err := c.establish(); err != nil {
		c.fail(err)
		return
	}
	c.status.Store(int32(StateConnected))
	c.log.Info("connected", zap.String("host", c.host))

	for {
		stopped, err := c.drainSignals()
		if err != nil {
			c.fail(err)
			return
		}
		if stopped {
			c.log.Info("disconnect requested", zap.String("host", c.host))
			return
		}
		if err := c.pollTelemetry(); err != nil {
			c.fail(err)
			return
		}
		if err := c.pollTCP(); err != nil {
			c.fail(err)
			return
		}
		if err := c.sendControlIfDue(time.Now()); err != nil {
			c.fail(err)
			return
		}
	}
}

// establish sends the first control packet and the current tags.
func (c *Conn) establish() error {
	if err := c.sendControl(time.Now()); err != nil {
		return err
	}
	for _, tag := range c.state.Tags() {
		if err := c.writeTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// drainSignals writes queued tags and reports whether a stop was requested.
func (c *Conn) drainSignals() (bool, error) {
	for {
		select {
		case <-c.stop:
			return true, nil
		default:
		}
		select {
		case tag := <-c.signals:
			if err := c.writeTag(tag); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
}

func (c *Conn) pollTelemetry() error {
	if err := c.telemetry.SetReadDeadline(time.Now().Add(c.pollInterval)); err != nil {
		return fmt.Errorf("telemetry deadline: %w", err)
	}
	n, _, err := c.telemetry.ReadFromUDP(c.udpBuf)
	if err != nil {
		if wouldBlock(err) {
			return nil
		}
		return fmt.Errorf("telemetry recv: %w", err)
	}

	payload := append([]byte(nil), c.udpBuf[:n]...)
	tel, err := protocol.DecodeTelemetry(payload)
	if err != nil {
		c.metrics.incDropped(protocol.SourceUDP)
		c.log.Debug("dropping telemetry", zap.Int("bytes", n), zap.Error(err))
		return nil
	}
	c.state.ApplyTelemetry(tel)
	c.metrics.observeTelemetry(tel)
	c.emit(protocol.Inbound{
		Source:    protocol.SourceUDP,
		Timestamp: time.Now(),
		Payload:   payload,
		Data:      tel,
	})
	return nil
}

func (c *Conn) pollTCP() error {
	if err := c.tcp.SetReadDeadline(time.Now().Add(c.pollInterval)); err != nil {
		return fmt.Errorf("tcp deadline: %w", err)
	}
	n, err := c.tcp.Read(c.tcpBuf)
	if n > 0 {
		c.frames.Write(c.tcpBuf[:n])
	}
	if err != nil && !wouldBlock(err) {
		return fmt.Errorf("tcp recv: %w", err)
	}

	for {
		frame, ok := c.frames.Next()
		if !ok {
			return nil
		}
		msg, err := protocol.DecodeRioMessage(frame)
		if err != nil {
			c.metrics.incDropped(protocol.SourceTCP)
			c.log.Debug("dropping tcp message", zap.Int("bytes", len(frame)), zap.Error(err))
			continue
		}
		c.state.ApplyMessage(msg)
		c.metrics.incMessage(msg.TypeID())
		c.emit(protocol.Inbound{
			Source:    protocol.SourceTCP,
			ID:        msg.TypeID(),
			Timestamp: time.Now(),
			Payload:   frame,
			Data:      msg,
		})
	}
}

func (c *Conn) sendControlIfDue(now time.Time) error {
	if !c.cadence.due(now) {
		return nil
	}
	return c.sendControl(now)
}

func (c *Conn) sendControl(now time.Time) error {
	pkt := c.state.ControlPacket()
	if err := c.control.SetWriteDeadline(now.Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("control deadline: %w", err)
	}
	if _, err := c.control.Write(pkt); err != nil {
		return fmt.Errorf("control send: %w", err)
	}
	c.cadence.mark(now)
	c.metrics.incControl()
	return nil
}

func (c *Conn) writeTag(tag protocol.Tag) error {
	frame := protocol.EncodeTag(tag)
	if len(frame) == 0 {
		return nil
	}
	if err := c.tcp.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("tcp deadline: %w", err)
	}
	if _, err := c.tcp.Write(frame); err != nil {
		return fmt.Errorf("tcp send tag 0x%02x: %w", tag.ID(), err)
	}
	c.metrics.incTag()
	return nil
}

func (c *Conn) emit(in protocol.Inbound) {
	if c.inbound != nil {
		c.inbound(in)
	}
}

// fail queues err for Status. Only the first error is kept.
func (c *Conn) fail(err error) {
	c.metrics.incError()
	c.log.Warn("connection failed", zap.String("host", c.host), zap.Error(err))
	select {
	case c.errs <- err:
	default:
	}
}

func (c *Conn) finish() {
	c.closeSockets()
	c.status.Store(int32(StateDisconnected))
	close(c.errs)
	close(c.done)
}

func (c *Conn) closeSockets() {
	if c.control != nil {
		_ = c.control.Close()
	}
	if c.telemetry != nil {
		_ = c.telemetry.Close()
	}
	if c.tcp != nil {
		_ = c.tcp.Close()
	}
}

func wouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
