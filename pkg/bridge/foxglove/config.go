package foxglove

const frameSchema = `{
  "type": "object",
  "properties": {
    "source": { "type": "string" },
    "kind": { "type": "string" },
    "id": { "type": "string" },
    "ts": { "type": "string" },
    "payload_hex": { "type": "string" },
    "data": { "type": "object", "additionalProperties": true },
    "text": { "type": "string" }
  },
  "required": ["source", "kind", "payload_hex"]
}`

const telemetrySchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "sequence_num": { "type": "integer" },
    "battery_voltage": { "type": "number" },
    "enabled": { "type": "boolean" },
    "estop": { "type": "boolean" },
    "brownout": { "type": "boolean" },
    "code_initializing": { "type": "boolean" },
    "robot_code": { "type": "boolean" },
    "mode": { "type": "string" }
  }
}`

const logSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

const faultsSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "object" },
    "comms": { "type": "integer" },
    "twelve_v": { "type": "integer" },
    "six_v": { "type": "integer" },
    "five_v": { "type": "integer" },
    "three_point_three_v": { "type": "integer" }
  }
}`

// ChannelConfig describes one advertised channel.
type ChannelConfig struct {
	ID         uint64
	Topic      string
	SchemaName string
	Schema     string
}

type Config struct {
	WSAddr    string
	Name      string
	LogName   string
	SendBuf   int
	Frames    ChannelConfig
	Telemetry ChannelConfig
	Log       ChannelConfig
	Faults    ChannelConfig
}

func DefaultConfig() Config {
	return Config{
		WSAddr:  "127.0.0.1:8765",
		Name:    "dslink",
		LogName: "robot",
		SendBuf: 256,
		Frames: ChannelConfig{
			ID:         1,
			Topic:      "dslink/frames",
			SchemaName: "dslink.Frame",
			Schema:     frameSchema,
		},
		Telemetry: ChannelConfig{
			ID:         2,
			Topic:      "dslink/telemetry",
			SchemaName: "dslink.Telemetry",
			Schema:     telemetrySchema,
		},
		Log: ChannelConfig{
			ID:         3,
			Topic:      "/robot/console",
			SchemaName: "foxglove.Log",
			Schema:     logSchema,
		},
		Faults: ChannelConfig{
			ID:         4,
			Topic:      "dslink/faults",
			SchemaName: "dslink.Faults",
			Schema:     faultsSchema,
		},
	}
}

// normalize fills empty fields from the defaults and gives every channel a
// distinct id.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.WSAddr == "" {
		c.WSAddr = d.WSAddr
	}
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.LogName == "" {
		c.LogName = d.LogName
	}
	if c.SendBuf <= 0 {
		c.SendBuf = d.SendBuf
	}

	channels := []*ChannelConfig{&c.Frames, &c.Telemetry, &c.Log, &c.Faults}
	defaults := []ChannelConfig{d.Frames, d.Telemetry, d.Log, d.Faults}
	used := map[uint64]bool{}
	var next uint64
	for i, ch := range channels {
		ch.fill(defaults[i])
		if used[ch.ID] {
			ch.ID = 0
		}
		if ch.ID > next {
			next = ch.ID
		}
		used[ch.ID] = true
	}
	for _, ch := range channels {
		if ch.ID == 0 {
			next++
			ch.ID = next
		}
	}
	return c
}

func (ch *ChannelConfig) fill(d ChannelConfig) {
	if ch.ID == 0 {
		ch.ID = d.ID
	}
	if ch.Topic == "" {
		ch.Topic = d.Topic
	}
	if ch.SchemaName == "" {
		ch.SchemaName = d.SchemaName
	}
	if ch.Schema == "" {
		ch.Schema = d.Schema
	}
}
