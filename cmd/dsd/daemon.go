package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dslink/pkg/bridge/foxglove"
	"dslink/pkg/config"
	"dslink/pkg/ds"
	"dslink/pkg/engine"
	"dslink/pkg/logger"
	"dslink/pkg/protocol"
	"dslink/pkg/transport"
)

const reconnectInterval = time.Second

func runCmd(opts *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the robot and keep the link alive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Robot.Address = address
			}
			log, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runDaemon(cmd.Context(), cfg, cmd.OutOrStdout(), log)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "robot address, overrides robot.address")
	return cmd
}

// daemon wires the driver station to its sinks through the hub.
type daemon struct {
	cfg     config.DSDConfig
	log     *zap.Logger
	reg     *prometheus.Registry
	hub     *engine.Hub
	station *ds.DriverStation
}

func newDaemon(cfg config.DSDConfig, log *zap.Logger) (*daemon, error) {
	initial, err := cfg.InitialState()
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	hub := engine.NewHub(engine.WithBroadcastBuffer(cfg.Logging.Queue))
	station := ds.New(
		ds.WithLogger(log),
		ds.WithMetrics(transport.NewMetrics(reg)),
		ds.WithInbound(func(in protocol.Inbound) { hub.TryPublish(in) }),
		ds.WithInitialState(initial),
		ds.WithTransportOptions(cfg.TransportOptions()...),
	)
	return &daemon{cfg: cfg, log: log, reg: reg, hub: hub, station: station}, nil
}

func runDaemon(ctx context.Context, cfg config.DSDConfig, stdout io.Writer, log *zap.Logger) error {
	host, err := cfg.RobotHost()
	if err != nil {
		return err
	}
	d, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.hub.Run(ctx)

	closeLog, err := d.startJSONL(ctx, stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	errCh := make(chan error, 2)
	if cfg.Metrics.Addr != "" {
		go func() { errCh <- d.serveMetrics(ctx) }()
	}
	if cfg.Foxglove.Enabled {
		fcfg := foxglove.DefaultConfig()
		fcfg.WSAddr = cfg.Foxglove.WSAddr
		srv := foxglove.NewServer(fcfg, d.hub, log.Named("foxglove"))
		go func() { errCh <- srv.Run(ctx) }()
	}

	log.Info("driver station started", zap.String("robot", host))
	superviseErr := d.supervise(ctx, host, errCh)
	cancel()
	if err := d.station.Close(); err != nil {
		log.Warn("close connection", zap.Error(err))
	}
	return superviseErr
}

// supervise dials the robot and redials whenever the link dies, until ctx
// is cancelled or a sink fails.
func (d *daemon) supervise(ctx context.Context, host string, errCh <-chan error) error {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	d.connect(ctx, host)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ticker.C:
			err := d.station.Status()
			switch {
			case err == nil:
			case errors.Is(err, transport.ErrAborted), errors.Is(err, ds.ErrNotConnected):
				d.connect(ctx, host)
			default:
				d.log.Warn("robot link lost", zap.Error(err))
			}
		}
	}
}

func (d *daemon) connect(ctx context.Context, host string) {
	if err := d.station.Connect(ctx, host); err != nil {
		d.log.Debug("connect failed", zap.String("robot", host), zap.Error(err))
		return
	}
	d.log.Info("robot connected", zap.String("robot", host))
}

// startJSONL attaches the frame log when one is configured. The returned
// func closes the file.
func (d *daemon) startJSONL(ctx context.Context, stdout io.Writer) (func(), error) {
	path := d.cfg.Logging.JSONL
	if path == "" {
		return func() {}, nil
	}
	out := stdout
	closeFn := func() {}
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("open frame log: %w", err)
		}
		out = file
		closeFn = func() { _ = file.Close() }
	}
	w := logger.NewJSONLWriter(out, d.log.Named("jsonl"))
	go w.Consume(ctx, d.hub.Subscribe())
	return closeFn, nil
}

func (d *daemon) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: d.cfg.Metrics.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	d.log.Info("metrics listening", zap.String("addr", d.cfg.Metrics.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
