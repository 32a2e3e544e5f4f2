package transport

import (
	"time"

	"go.uber.org/zap"

	"dslink/pkg/protocol"
)

// Fixed endpoints of this protocol generation.
const (
	ControlPort      = 1110
	ControlLocalPort = 1149
	TelemetryPort    = 1150
	TCPPort          = 1740

	DefaultCadence      = 20 * time.Millisecond
	DefaultPollInterval = 1 * time.Millisecond
	DefaultDialTimeout  = 2 * time.Second
	DefaultWriteTimeout = 250 * time.Millisecond
	DefaultSignalBuffer = 16
)

type Option func(*Conn)

func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Conn) {
		c.metrics = m
	}
}

// WithInbound registers a handler for every decoded robot frame. It runs on
// the I/O loop and must not block.
func WithInbound(fn func(protocol.Inbound)) Option {
	return func(c *Conn) {
		c.inbound = fn
	}
}

func WithControlPort(port int) Option {
	return func(c *Conn) {
		if port > 0 {
			c.controlPort = port
		}
	}
}

// WithControlLocalPort sets the local port control packets leave from; 0 picks any.
func WithControlLocalPort(port int) Option {
	return func(c *Conn) {
		if port >= 0 {
			c.controlLocalPort = port
		}
	}
}

// WithTelemetryPort sets the local telemetry bind port; 0 picks any.
func WithTelemetryPort(port int) Option {
	return func(c *Conn) {
		if port >= 0 {
			c.telemetryPort = port
		}
	}
}

func WithTCPPort(port int) Option {
	return func(c *Conn) {
		if port > 0 {
			c.tcpPort = port
		}
	}
}

func WithCadence(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.cadence.interval = d
		}
	}
}

// WithPollInterval bounds how long one socket poll may wait for data.
func WithPollInterval(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds each control or tag write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// WithSignalBuffer sizes the queue of tags waiting for the worker; SendTag
// reports ErrBusy once it is full.
func WithSignalBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.signals = make(chan protocol.Tag, n)
		}
	}
}
