package logger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"go.uber.org/zap"

	"dslink/pkg/protocol"
)

// JSONLWriter records every inbound robot frame as one JSON object per line.
type JSONLWriter struct {
	enc *json.Encoder
	log *zap.Logger
}

type jsonRecord struct {
	TS         string `json:"ts"`
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	ID         string `json:"id,omitempty"`
	PayloadHex string `json:"payload_hex"`
	Data       any    `json:"data,omitempty"`
	Text       string `json:"text,omitempty"`
}

func NewJSONLWriter(w io.Writer, log *zap.Logger) *JSONLWriter {
	if log == nil {
		log = zap.NewNop()
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc, log: log}
}

func (j *JSONLWriter) Consume(ctx context.Context, in <-chan protocol.Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if err := j.Write(msg); err != nil {
				j.log.Warn("jsonl write failed", zap.Error(err))
			}
		}
	}
}

func (j *JSONLWriter) Write(msg protocol.Inbound) error {
	rec := jsonRecord{
		TS:         msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:     msg.Source.String(),
		Kind:       msg.Kind(),
		PayloadHex: hex.EncodeToString(msg.Payload),
		Data:       msg.Data,
	}
	if msg.Source == protocol.SourceTCP {
		rec.ID = formatID(msg.ID)
	}
	if text, ok := msg.Text(); ok {
		rec.Text = text
	}
	return j.enc.Encode(rec)
}

func formatID(id uint8) string {
	return "0x" + hex.EncodeToString([]byte{id})
}
