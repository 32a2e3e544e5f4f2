package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dslink/pkg/protocol"
)

const (
	simBatteryNominal   = 12.4
	simBatteryAmplitude = 0.6
	simBatteryFreqHz    = 0.05

	simConsoleInterval = time.Second
)

func simCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a simulated robot that answers the driver station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ports := cfg.Robot.Ports
			robot, err := newSimRobot(
				net.JoinHostPort(listen, strconv.Itoa(ports.Control)),
				net.JoinHostPort(listen, strconv.Itoa(ports.TCP)),
				ports.Telemetry,
				log.Named("sim"),
			)
			if err != nil {
				return err
			}
			return robot.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1", "address the simulated robot listens on")
	return cmd
}

// simRobot mirrors the commanded state back as telemetry and prints a
// console line once a second on every TCP connection.
type simRobot struct {
	log           *zap.Logger
	udp           *net.UDPConn
	tcp           net.Listener
	telemetryPort int
	start         time.Time

	mu  sync.Mutex
	seq uint16
}

func newSimRobot(controlAddr, tcpAddr string, telemetryPort int, log *zap.Logger) (*simRobot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", controlAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve control address: %w", err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen control: %w", err)
	}
	tcp, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("listen tcp: %w", err)
	}
	return &simRobot{
		log:           log,
		udp:           udp,
		tcp:           tcp,
		telemetryPort: telemetryPort,
		start:         time.Now(),
	}, nil
}

func (r *simRobot) ControlAddr() net.Addr { return r.udp.LocalAddr() }
func (r *simRobot) TCPAddr() net.Addr     { return r.tcp.Addr() }

// Run serves until ctx is cancelled.
func (r *simRobot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.acceptLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		_ = r.udp.Close()
		_ = r.tcp.Close()
	}()

	r.log.Info("simulated robot listening",
		zap.String("control", r.udp.LocalAddr().String()),
		zap.String("tcp", r.tcp.Addr().String()),
	)

	buf := make([]byte, 1500)
	for {
		n, from, err := r.udp.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("read control: %w", err)
		}
		frame, err := protocol.DecodeControlFrame(buf[:n])
		if err != nil {
			r.log.Debug("drop control packet", zap.Error(err))
			continue
		}
		if frame.Request != 0 {
			r.log.Info("request received", zap.Uint8("request", uint8(frame.Request)))
		}
		to := &net.UDPAddr{IP: from.IP, Port: r.telemetryPort}
		pkt := protocol.EncodeTelemetry(r.telemetry(frame, time.Since(r.start).Seconds()))
		if _, err := r.udp.WriteToUDP(pkt, to); err != nil {
			r.log.Debug("send telemetry", zap.Stringer("to", to), zap.Error(err))
		}
	}
}

func (r *simRobot) telemetry(f protocol.ControlFrame, t float64) protocol.Telemetry {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return simTelemetry(f, seq, t)
}

// simTelemetry is the status a healthy robot reports for control frame f at
// t seconds since boot. The date is requested until the DS has sent one.
func simTelemetry(f protocol.ControlFrame, seq uint16, t float64) protocol.Telemetry {
	mode, ok := f.Control.Mode()
	enabled := f.Control.Enabled() && !f.Control.Estop()
	return protocol.Telemetry{
		SequenceNum: seq,
		CommVersion: 1,
		Status: protocol.Status{
			Estop:     f.Control.Estop(),
			Enabled:   enabled,
			Mode:      mode,
			ModeValid: ok,
		},
		Trace: protocol.Trace{
			RobotCode:  true,
			IsRoborio:  true,
			Disabled:   !enabled,
			TeleopCode: enabled && mode == protocol.ModeTeleop,
			AutoMode:   enabled && mode == protocol.ModeAuto,
			TestMode:   enabled && mode == protocol.ModeTest,
		},
		BatteryVoltage: simBattery(t),
		RequestDate:    !f.HasDate,
	}
}

func simBattery(t float64) float32 {
	return float32(simBatteryNominal + simBatteryAmplitude*math.Sin(2.0*math.Pi*simBatteryFreqHz*t))
}

func (r *simRobot) acceptLoop(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := r.tcp.Accept()
		if err != nil {
			return
		}
		r.log.Info("driver station connected", zap.Stringer("remote", conn.RemoteAddr()))
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.serveTCP(ctx, conn)
		}()
	}
}

func (r *simRobot) serveTCP(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	go func() {
		defer cancel()
		var frames protocol.FrameBuffer
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frames.Write(buf[:n])
			for {
				tag, ok := frames.Next()
				if !ok {
					break
				}
				if len(tag) > 0 {
					r.log.Debug("tag received", zap.Uint8("id", tag[0]), zap.Int("len", len(tag)))
				}
			}
		}
	}()

	ticker := time.NewTicker(simConsoleInterval)
	defer ticker.Stop()
	var seq uint16
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			line := protocol.EncodeStandardOutput(protocol.StandardOutput{
				Timestamp:      float32(time.Since(r.start).Seconds()),
				SequenceNumber: seq,
				Message:        fmt.Sprintf("sim: loop %d, battery %.2fV", seq, simBattery(time.Since(r.start).Seconds())),
			})
			if _, err := conn.Write(line); err != nil {
				return
			}
		}
	}
}
