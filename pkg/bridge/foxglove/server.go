package foxglove

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dslink/pkg/engine"
	"dslink/pkg/protocol"
)

// foxglove.Log levels.
const (
	logLevelInfo  = 2
	logLevelWarn  = 3
	logLevelError = 4
)

type FramePacket struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	ID         string `json:"id,omitempty"`
	TS         string `json:"ts,omitempty"`
	PayloadHex string `json:"payload_hex"`
	Data       any    `json:"data,omitempty"`
	Text       string `json:"text,omitempty"`
}

type TelemetryMessage struct {
	Timestamp        FrameTime `json:"timestamp"`
	SequenceNum      uint16    `json:"sequence_num"`
	BatteryVoltage   float32   `json:"battery_voltage"`
	Enabled          bool      `json:"enabled"`
	Estop            bool      `json:"estop"`
	Brownout         bool      `json:"brownout"`
	CodeInitializing bool      `json:"code_initializing"`
	RobotCode        bool      `json:"robot_code"`
	Mode             string    `json:"mode"`
}

type LogMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	Level     uint8     `json:"level"`
	Message   string    `json:"message"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Line      uint32    `json:"line"`
}

// FaultsMessage carries whichever fault counters the last message reported.
type FaultsMessage struct {
	Timestamp        FrameTime `json:"timestamp"`
	Comms            *uint16   `json:"comms,omitempty"`
	TwelveV          *uint16   `json:"twelve_v,omitempty"`
	SixV             *uint16   `json:"six_v,omitempty"`
	FiveV            *uint16   `json:"five_v,omitempty"`
	ThreePointThreeV *uint16   `json:"three_point_three_v,omitempty"`
}

type Server struct {
	cfg     Config
	hub     *engine.Hub
	log     *zap.Logger
	clients map[*client]struct{}
	mu      sync.RWMutex

	readyOnce sync.Once
	ready     chan struct{}
	addr      net.Addr
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

func NewServer(cfg Config, hub *engine.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg.normalize(),
		hub:     hub,
		log:     log,
		clients: make(map[*client]struct{}),
		ready:   make(chan struct{}),
	}
}

// Addr blocks until Run has tried to bind. It is nil if binding failed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	ln, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		s.readyOnce.Do(func() { close(s.ready) })
		return fmt.Errorf("foxglove listen %s: %w", s.cfg.WSAddr, err)
	}
	s.addr = ln.Addr()
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("foxglove bridge listening", zap.String("addr", s.addr.String()))

	httpServer := &http.Server{Handler: mux}

	sub := s.hub.Subscribe()
	go s.broadcastLoop(ctx, sub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	defer func() {
		c.close()
		s.removeClient(c)
	}()

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels())
}

func (s *Server) channels() []ChannelConfig {
	return []ChannelConfig{s.cfg.Frames, s.cfg.Telemetry, s.cfg.Log, s.cfg.Faults}
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for _, ch := range s.channels() {
		out[ch.ID] = struct{}{}
	}
	return out
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          fmt.Sprintf("%d", time.Now().UTC().UnixNano()),
	}
}

func (s *Server) advertise() AdvertiseMsg {
	var channels []Channel
	for _, ch := range s.channels() {
		channels = append(channels, Channel{
			ID:             ch.ID,
			Topic:          ch.Topic,
			Encoding:       "json",
			SchemaName:     ch.SchemaName,
			SchemaEncoding: "jsonschema",
			Schema:         ch.Schema,
		})
	}
	return AdvertiseMsg{Op: OpAdvertise, Channels: channels}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan protocol.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(in)
		}
	}
}

func (s *Server) broadcast(in protocol.Inbound) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.publishJSONToChannel(s.cfg.Frames.ID, ts, s.frameFromInbound(in, ts))
	if tel, ok := s.telemetryFromInbound(in, ts); ok {
		s.publishJSONToChannel(s.cfg.Telemetry.ID, ts, tel)
	}
	if msg, ok := s.logFromInbound(in, ts); ok {
		s.publishJSONToChannel(s.cfg.Log.ID, ts, msg)
	}
	if faults, ok := s.faultsFromInbound(in, ts); ok {
		s.publishJSONToChannel(s.cfg.Faults.ID, ts, faults)
	}
}

func (s *Server) frameFromInbound(in protocol.Inbound, ts time.Time) FramePacket {
	rec := FramePacket{
		Source:     in.Source.String(),
		Kind:       in.Kind(),
		TS:         ts.UTC().Format(time.RFC3339Nano),
		PayloadHex: hex.EncodeToString(in.Payload),
		Data:       in.Data,
	}
	if in.Source == protocol.SourceTCP {
		rec.ID = fmt.Sprintf("0x%02x", in.ID)
	}
	if text, ok := in.Text(); ok {
		rec.Text = text
	}
	return rec
}

func (s *Server) telemetryFromInbound(in protocol.Inbound, ts time.Time) (TelemetryMessage, bool) {
	tel, ok := in.Data.(protocol.Telemetry)
	if !ok {
		return TelemetryMessage{}, false
	}
	mode := "invalid"
	if tel.Status.ModeValid {
		mode = tel.Status.Mode.String()
	}
	return TelemetryMessage{
		Timestamp:        NewFrameTime(ts),
		SequenceNum:      tel.SequenceNum,
		BatteryVoltage:   tel.BatteryVoltage,
		Enabled:          tel.Status.Enabled,
		Estop:            tel.Status.Estop,
		Brownout:         tel.Status.Brownout,
		CodeInitializing: tel.Status.CodeInitializing,
		RobotCode:        tel.Trace.RobotCode,
		Mode:             mode,
	}, true
}

func (s *Server) logFromInbound(in protocol.Inbound, ts time.Time) (LogMessage, bool) {
	msg := LogMessage{Timestamp: NewFrameTime(ts), Level: logLevelInfo, Name: s.cfg.LogName}
	switch m := in.Data.(type) {
	case protocol.StandardOutput:
		msg.Message = m.Message
	case protocol.RadioEvent:
		msg.Message = m.Message
		msg.Name = "radio"
	case protocol.ErrorMessage:
		msg.Message = m.Details
		msg.File = m.Location
		msg.Level = logLevelWarn
		if m.IsError {
			msg.Level = logLevelError
		}
	default:
		return LogMessage{}, false
	}
	return msg, true
}

func (s *Server) faultsFromInbound(in protocol.Inbound, ts time.Time) (FaultsMessage, bool) {
	switch m := in.Data.(type) {
	case protocol.DisableFaults:
		return FaultsMessage{Timestamp: NewFrameTime(ts), Comms: &m.Comms, TwelveV: &m.TwelveV}, true
	case protocol.RailFaults:
		return FaultsMessage{
			Timestamp:        NewFrameTime(ts),
			SixV:             &m.SixV,
			FiveV:            &m.FiveV,
			ThreePointThreeV: &m.ThreePointThreeV,
		}, true
	default:
		return FaultsMessage{}, false
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.log.Debug("foxglove marshal failed", zap.Uint64("channel", channelID), zap.Error(err))
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops msg when the client is slow. A send racing close is recovered.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
