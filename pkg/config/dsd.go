package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"dslink/pkg/ds"
	"dslink/pkg/engine"
	"dslink/pkg/protocol"
	"dslink/pkg/transport"
)

const DefaultConfigPath = "dsd.toml"

var ErrNoRobot = errors.New("robot.address or robot.team must be set")

type DSDConfig struct {
	Robot      RobotConfig    `toml:"robot"`
	Station    StationConfig  `toml:"station"`
	Logging    LoggingConfig  `toml:"logging"`
	Foxglove   FoxgloveConfig `toml:"foxglove"`
	Metrics    MetricsConfig  `toml:"metrics"`
	configPath string         `toml:"-"`
}

// RobotConfig selects the robot and tunes the link. SignalBuffer is how
// many tags may wait for the connection worker.
type RobotConfig struct {
	Address      string      `toml:"address,omitempty"`
	Team         uint16      `toml:"team,omitempty"`
	Ports        PortsConfig `toml:"ports"`
	Cadence      string      `toml:"cadence"`
	Dial         string      `toml:"dial_timeout"`
	Write        string      `toml:"write_timeout"`
	SignalBuffer int         `toml:"signal_buffer"`
}

// PortsConfig overrides the fixed protocol ports, for simulators.
type PortsConfig struct {
	Control      int `toml:"control"`
	ControlLocal int `toml:"control_local"`
	Telemetry    int `toml:"telemetry"`
	TCP          int `toml:"tcp"`
}

type StationConfig struct {
	Alliance    string `toml:"alliance"`
	Mode        string `toml:"mode"`
	GameData    string `toml:"game_data,omitempty"`
	Competition string `toml:"competition"`
	MatchType   string `toml:"match_type"`
}

type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
	// JSONL is the inbound frame log path. Empty disables it, "-" is stdout.
	JSONL string `toml:"jsonl,omitempty"`
	// Queue is how many inbound frames may wait ahead of the sinks before
	// new ones are dropped.
	Queue int `toml:"queue"`
}

type FoxgloveConfig struct {
	Enabled bool   `toml:"enabled"`
	WSAddr  string `toml:"ws_addr"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty"`
}

func Default() DSDConfig {
	return DSDConfig{
		Robot: RobotConfig{
			Ports: PortsConfig{
				Control:      transport.ControlPort,
				ControlLocal: transport.ControlLocalPort,
				Telemetry:    transport.TelemetryPort,
				TCP:          transport.TCPPort,
			},
			Cadence: transport.DefaultCadence.String(),
			Dial:    "2s",
		},
		Station: StationConfig{
			Alliance:    "red1",
			Mode:        "teleop",
			Competition: "unknown",
			MatchType:   "none",
		},
		Logging: LoggingConfig{
			Level: "info",
			Queue: engine.DefaultBroadcastBuffer,
		},
		Foxglove: FoxgloveConfig{
			WSAddr: "127.0.0.1:8765",
		},
	}
}

func Load(path string) (DSDConfig, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return DSDConfig{}, err
	}
	if !exists {
		return DSDConfig{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path, falling back to defaults when it does not exist.
// The bool reports whether the file was found.
func LoadOrDefault(path string) (DSDConfig, bool, error) {
	cfg := Default()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return DSDConfig{}, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return DSDConfig{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return DSDConfig{}, true, err
	}
	return cfg, true, nil
}

func (cfg *DSDConfig) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *DSDConfig) ConfigPath() string {
	return cfg.configPath
}

// Validate checks every field the daemon parses. It does not require a
// robot address, so a config can be saved before one is known.
func (cfg *DSDConfig) Validate() error {
	if cfg.Robot.Team > 9999 {
		return fmt.Errorf("robot.team out of range: %d", cfg.Robot.Team)
	}
	for name, port := range map[string]int{
		"control":       cfg.Robot.Ports.Control,
		"control_local": cfg.Robot.Ports.ControlLocal,
		"telemetry":     cfg.Robot.Ports.Telemetry,
		"tcp":           cfg.Robot.Ports.TCP,
	} {
		if port < 0 || port > 0xFFFF {
			return fmt.Errorf("robot.ports.%s out of range: %d", name, port)
		}
	}
	if _, err := cfg.Robot.CadenceDuration(); err != nil {
		return err
	}
	if _, err := cfg.Robot.DialTimeout(); err != nil {
		return err
	}
	if _, err := cfg.Robot.WriteTimeout(); err != nil {
		return err
	}
	if cfg.Robot.SignalBuffer < 1 {
		return fmt.Errorf("robot.signal_buffer must be positive: %d", cfg.Robot.SignalBuffer)
	}
	if _, err := protocol.ParseAlliance(cfg.Station.Alliance); err != nil {
		return fmt.Errorf("station.alliance: %w", err)
	}
	if _, err := protocol.ParseMode(cfg.Station.Mode); err != nil {
		return fmt.Errorf("station.mode: %w", err)
	}
	if _, err := protocol.ParseMatchType(cfg.Station.MatchType); err != nil {
		return fmt.Errorf("station.match_type: %w", err)
	}
	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Queue < 1 {
		return fmt.Errorf("logging.queue must be positive: %d", cfg.Logging.Queue)
	}
	return nil
}

func (cfg *DSDConfig) normalize(path string) {
	def := Default()

	cfg.Robot.Address = strings.TrimSpace(cfg.Robot.Address)
	if cfg.Robot.Ports.Control == 0 {
		cfg.Robot.Ports.Control = def.Robot.Ports.Control
	}
	if cfg.Robot.Ports.TCP == 0 {
		cfg.Robot.Ports.TCP = def.Robot.Ports.TCP
	}
	if cfg.Robot.Cadence == "" {
		cfg.Robot.Cadence = def.Robot.Cadence
	}
	if cfg.Robot.Dial == "" {
		cfg.Robot.Dial = def.Robot.Dial
	}
	if cfg.Robot.Write == "" {
		cfg.Robot.Write = def.Robot.Write
	}

	if cfg.Station.Alliance == "" {
		cfg.Station.Alliance = def.Station.Alliance
	}
	if a, err := protocol.ParseAlliance(cfg.Station.Alliance); err == nil {
		cfg.Station.Alliance = a.String()
	}
	if cfg.Station.Mode == "" {
		cfg.Station.Mode = def.Station.Mode
	}
	cfg.Station.Mode = strings.ToLower(strings.TrimSpace(cfg.Station.Mode))
	if cfg.Station.Competition == "" {
		cfg.Station.Competition = def.Station.Competition
	}
	if cfg.Station.MatchType == "" {
		cfg.Station.MatchType = def.Station.MatchType
	}
	cfg.Station.MatchType = strings.ToLower(strings.TrimSpace(cfg.Station.MatchType))

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path

	// relative log paths follow the config file
	if p := cfg.Logging.JSONL; p != "" && p != "-" && !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(path), p)
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		cfg.Logging.JSONL = p
	}
}

// RobotHost is the address to dial: the explicit address, else the team's
// static address.
func (cfg *DSDConfig) RobotHost() (string, error) {
	if cfg.Robot.Address != "" {
		return cfg.Robot.Address, nil
	}
	if cfg.Robot.Team != 0 {
		return TeamAddress(cfg.Robot.Team), nil
	}
	return "", ErrNoRobot
}

func (r RobotConfig) CadenceDuration() (time.Duration, error) {
	return parseDuration("robot.cadence", r.Cadence)
}

func (r RobotConfig) DialTimeout() (time.Duration, error) {
	return parseDuration("robot.dial_timeout", r.Dial)
}

func (r RobotConfig) WriteTimeout() (time.Duration, error) {
	return parseDuration("robot.write_timeout", r.Write)
}

// TransportOptions maps the robot section onto connection options.
func (cfg *DSDConfig) TransportOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithControlPort(cfg.Robot.Ports.Control),
		transport.WithControlLocalPort(cfg.Robot.Ports.ControlLocal),
		transport.WithTelemetryPort(cfg.Robot.Ports.Telemetry),
		transport.WithTCPPort(cfg.Robot.Ports.TCP),
		transport.WithSignalBuffer(cfg.Robot.SignalBuffer),
	}
	if d, err := cfg.Robot.CadenceDuration(); err == nil {
		opts = append(opts, transport.WithCadence(d))
	}
	if d, err := cfg.Robot.DialTimeout(); err == nil {
		opts = append(opts, transport.WithDialTimeout(d))
	}
	if d, err := cfg.Robot.WriteTimeout(); err == nil {
		opts = append(opts, transport.WithWriteTimeout(d))
	}
	return opts
}

// InitialState builds the commanded state the daemon starts from. The
// robot always starts disabled.
func (cfg *DSDConfig) InitialState() (ds.State, error) {
	st := ds.NewState()
	alliance, err := protocol.ParseAlliance(cfg.Station.Alliance)
	if err != nil {
		return st, fmt.Errorf("station.alliance: %w", err)
	}
	mode, err := protocol.ParseMode(cfg.Station.Mode)
	if err != nil {
		return st, fmt.Errorf("station.mode: %w", err)
	}
	matchType, err := protocol.ParseMatchType(cfg.Station.MatchType)
	if err != nil {
		return st, fmt.Errorf("station.match_type: %w", err)
	}
	st.Alliance = alliance
	st.Mode = mode
	st.GameData = cfg.Station.GameData
	st.MatchInfo = protocol.MatchInfo{Competition: cfg.Station.Competition, MatchType: matchType}
	return st, nil
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive: %s", field, v)
	}
	return d, nil
}

// TeamAddress is the static robot address for a team number: 10.TE.AM.2.
func TeamAddress(team uint16) string {
	return fmt.Sprintf("10.%d.%d.2", team/100, team%100)
}
