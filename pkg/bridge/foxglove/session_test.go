package foxglove_test

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dslink/pkg/bridge/foxglove"
	"dslink/pkg/engine"
	"dslink/pkg/protocol"
)

type session struct {
	hub      *engine.Hub
	conn     *websocket.Conn
	channels map[string]foxglove.Channel
}

func startSession(t *testing.T, cfg foxglove.Config) *session {
	t.Helper()
	cfg.WSAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	go hub.Run(ctx)

	srv := foxglove.NewServer(cfg, hub, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()
	addr := srv.Addr()
	require.NotNil(t, addr)

	dialURL := url.URL{Scheme: "ws", Host: addr.String(), Path: "/"}
	dialer := websocket.Dialer{Subprotocols: []string{foxglove.Subprotocol}}
	conn, _, err := dialer.Dial(dialURL.String(), nil)
	if err != nil {
		cancel()
		t.Fatalf("dial foxglove websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Errorf("timed out waiting for foxglove server shutdown")
		}
	})

	_, infoRaw, err := readWSMessage(conn)
	require.NoError(t, err)
	var info foxglove.ServerInfoMsg
	require.NoError(t, json.Unmarshal(infoRaw, &info))
	require.Equal(t, foxglove.OpServerInfo, info.Op)

	_, advRaw, err := readWSMessage(conn)
	require.NoError(t, err)
	var adv foxglove.AdvertiseMsg
	require.NoError(t, json.Unmarshal(advRaw, &adv))

	channels := make(map[string]foxglove.Channel, len(adv.Channels))
	for _, ch := range adv.Channels {
		channels[ch.Topic] = ch
	}
	return &session{hub: hub, conn: conn, channels: channels}
}

func readWSMessage(conn *websocket.Conn) (int, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	return msgType, raw, err
}

func subscribe(t *testing.T, conn *websocket.Conn, subID uint32, channelID uint64) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(foxglove.SubscribeMsg{
		Op:            foxglove.OpSubscribe,
		Subscriptions: []foxglove.Subscription{{ID: subID, ChannelID: channelID}},
	}))
	// subscriptions are applied asynchronously
	time.Sleep(20 * time.Millisecond)
}

func readPayloadForSub(t *testing.T, conn *websocket.Conn, subID uint32) []byte {
	t.Helper()
	for i := 0; i < 40; i++ {
		msgType, frame, err := readWSMessage(conn)
		require.NoError(t, err)
		if msgType != websocket.BinaryMessage {
			continue
		}
		got, _, payload, err := foxglove.DecodeMessageData(frame)
		if err != nil || got != subID {
			continue
		}
		return payload
	}
	t.Fatalf("no messageData for subscription %d", subID)
	return nil
}

func TestSessionAdvertisesChannels(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg)

	assert.Len(t, s.channels, 4)
	for _, topic := range []string{cfg.Frames.Topic, cfg.Telemetry.Topic, cfg.Log.Topic, cfg.Faults.Topic} {
		assert.Contains(t, s.channels, topic)
	}
	assert.Equal(t, "foxglove.Log", s.channels[cfg.Log.Topic].SchemaName)
}

func TestSessionPublishesConsoleOutput(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg)
	subscribe(t, s.conn, 11, s.channels[cfg.Log.Topic].ID)

	require.True(t, s.hub.TryPublish(protocol.Inbound{
		Source:    protocol.SourceTCP,
		ID:        protocol.TypeStandardOutput,
		Timestamp: time.Unix(123, 456),
		Data:      protocol.StandardOutput{Message: "robot init"},
	}))

	var rec foxglove.LogMessage
	require.NoError(t, json.Unmarshal(readPayloadForSub(t, s.conn, 11), &rec))
	assert.Equal(t, uint8(2), rec.Level)
	assert.Equal(t, "robot init", rec.Message)
	assert.Equal(t, cfg.LogName, rec.Name)
	assert.Equal(t, foxglove.FrameTime{Sec: 123, Nsec: 456}, rec.Timestamp)
}

func TestSessionPublishesTelemetry(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startSession(t, cfg)
	subscribe(t, s.conn, 21, s.channels[cfg.Telemetry.Topic].ID)
	subscribe(t, s.conn, 22, s.channels[cfg.Frames.Topic].ID)

	require.True(t, s.hub.TryPublish(protocol.Inbound{
		Source:    protocol.SourceUDP,
		Timestamp: time.Unix(50, 0),
		Payload:   []byte{0, 1, 1, 0, 0, 12, 128, 0},
		Data: protocol.Telemetry{
			SequenceNum:    1,
			BatteryVoltage: 12.5,
			Status:         protocol.StatusFromByte(0),
		},
	}))

	// the raw frame is published ahead of the derived channels
	var frame foxglove.FramePacket
	require.NoError(t, json.Unmarshal(readPayloadForSub(t, s.conn, 22), &frame))
	assert.Equal(t, "udp", frame.Source)
	assert.Equal(t, "telemetry", frame.Kind)
	assert.Empty(t, frame.ID)

	var tel foxglove.TelemetryMessage
	require.NoError(t, json.Unmarshal(readPayloadForSub(t, s.conn, 21), &tel))
	assert.InDelta(t, 12.5, tel.BatteryVoltage, 1e-6)
	assert.Equal(t, "teleop", tel.Mode)
}
