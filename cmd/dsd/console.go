package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dslink/pkg/ds"
	"dslink/pkg/protocol"
	"dslink/pkg/transport"
)

const consoleRefresh = 100 * time.Millisecond

func consoleCmd(opts *rootOptions) *cobra.Command {
	var (
		address string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Drive the robot from an interactive terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Robot.Address = address
			}
			host, err := cfg.RobotHost()
			if err != nil {
				return err
			}
			initial, err := cfg.InitialState()
			if err != nil {
				return err
			}

			// the terminal belongs to the UI, logs only go to a file
			log := zap.NewNop()
			if logFile != "" {
				if log, err = newLogger(cfg.Logging, logFile); err != nil {
					return err
				}
				defer func() { _ = log.Sync() }()
			}

			station := ds.New(
				ds.WithLogger(log),
				ds.WithInitialState(initial),
				ds.WithTransportOptions(cfg.TransportOptions()...),
			)
			defer func() { _ = station.Close() }()

			model := newConsoleModel(station, host, func() error {
				return station.Connect(cmd.Context(), host)
			})
			program := tea.NewProgram(model,
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			_, err = program.Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "robot address, overrides robot.address")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file")
	return cmd
}

type consoleTickMsg time.Time

type connectResultMsg struct{ err error }

type consoleModel struct {
	station *ds.DriverStation
	host    string
	connect func() error

	lastErr error
	note    string
}

func newConsoleModel(station *ds.DriverStation, host string, connect func() error) consoleModel {
	return consoleModel{station: station, host: host, connect: connect}
}

func consoleTick() tea.Cmd {
	return tea.Tick(consoleRefresh, func(t time.Time) tea.Msg { return consoleTickMsg(t) })
}

func (m consoleModel) connectCmd() tea.Cmd {
	connect := m.connect
	return func() tea.Msg {
		if connect == nil {
			return connectResultMsg{}
		}
		return connectResultMsg{err: connect()}
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(m.connectCmd(), consoleTick())
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())
	case connectResultMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.note = "connected to " + m.host
		}
		return m, nil
	case consoleTickMsg:
		// keep the cause once the link reports it, not the ErrAborted after it
		err := m.station.Status()
		if err != nil && !errors.Is(err, ds.ErrNotConnected) &&
			(m.lastErr == nil || !errors.Is(err, transport.ErrAborted)) {
			m.lastErr = err
		}
		return m, consoleTick()
	}
	return m, nil
}

func (m consoleModel) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "e":
		m.station.SetEnabled(true)
		m.note = "enabled"
	case "d", "enter":
		m.station.SetEnabled(false)
		m.note = "disabled"
	case " ", "x":
		m.station.SetEstop(true)
		m.station.SetEnabled(false)
		m.note = "emergency stopped"
	case "t":
		m.setMode(protocol.ModeTeleop)
	case "a":
		m.setMode(protocol.ModeAuto)
	case "s":
		m.setMode(protocol.ModeTest)
	case "r":
		m.station.RestartCode()
		m.note = "restart code requested"
	case "c":
		m.note = "reconnecting to " + m.host
		m.lastErr = nil
		return m, m.connectCmd()
	}
	return m, nil
}

// setMode always leaves the robot disabled.
func (m *consoleModel) setMode(mode protocol.Mode) {
	m.station.SetEnabled(false)
	m.station.SetMode(mode)
	m.note = "mode " + mode.String()
}

func (m consoleModel) View() string {
	st := m.station.State()
	var b strings.Builder

	link := transport.StateDisconnected.String()
	if m.station.IsConnected() {
		link = transport.StateConnected.String()
	}
	fmt.Fprintf(&b, "robot %s: %s\n", m.host, link)

	enabled := "disabled"
	if st.Enabled {
		enabled = "ENABLED"
	}
	if st.Estop {
		enabled = "E-STOPPED"
	}
	fmt.Fprintf(&b, "commanded: %s %s, alliance %s\n", enabled, st.Mode, st.Alliance)

	if tel, ok := m.station.LastTelemetry(); ok {
		code := "no code"
		if tel.Trace.RobotCode {
			code = "code running"
		}
		fmt.Fprintf(&b, "robot: battery %.2fV, %s", tel.BatteryVoltage, code)
		if tel.Status.Brownout {
			b.WriteString(", BROWNOUT")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("robot: no telemetry\n")
	}

	if m.lastErr != nil {
		fmt.Fprintf(&b, "error: %v\n", m.lastErr)
	}
	if m.note != "" {
		fmt.Fprintf(&b, "> %s\n", m.note)
	}
	b.WriteString("\n[e]nable [d]isable [space] e-stop [t]eleop [a]uto te[s]t [r]estart code [c]onnect [q]uit\n")
	return b.String()
}
