package wire

import (
	"fmt"
	"math/big"
)

type Opcode uint8

const (
	OpDispatch Opcode = iota
	OpHeartbeat
	OpRequest
	OpResponse
	OpError
	OpAuthorize
	OpSubscribe
)

var opcodeNames = [...]string{
	OpDispatch:  "dispatch",
	OpHeartbeat: "heartbeat",
	OpRequest:   "request",
	OpResponse:  "response",
	OpError:     "error",
	OpAuthorize: "authorize",
	OpSubscribe: "subscribe",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// Method is the verb of a request frame.
type Method string

const (
	MethodGet    Method = "get"
	MethodPost   Method = "post"
	MethodPatch  Method = "patch"
	MethodDelete Method = "delete"
)

// Envelope keys.
const (
	keyID     = "i"
	keyOpcode = "o"
	keyEvent  = "e"
	keyMethod = "m"
	keyTopic  = "r"
	keyData   = "d"
	keyName   = "n"
)

// Frame is one decoded protocol message.
type Frame struct {
	ID     int64
	HasID  bool
	Opcode Opcode
	Event  string
	Method Method
	Topic  string
	Data   any
}

func (f *Frame) SetID(id int64) {
	f.ID = id
	f.HasID = true
}

// Value builds the envelope map. Absent fields and empty payloads are
// omitted.
func (f Frame) Value() map[string]any {
	out := map[string]any{keyOpcode: int64(f.Opcode)}
	if f.HasID {
		out[keyID] = f.ID
	}
	if f.Event != "" {
		out[keyEvent] = map[string]any{keyName: f.Event}
	}
	if f.Method != "" {
		out[keyMethod] = string(f.Method)
	}
	if f.Topic != "" {
		out[keyTopic] = f.Topic
	}
	if !isEmptyPayload(f.Data) {
		out[keyData] = f.Data
	}
	return out
}

// ParseFrame reads an envelope decoded by FromWire. The event field may be
// either ["name"] or {"n": "name"}.
func ParseFrame(v any) (Frame, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Frame{}, fmt.Errorf("%w: expected map, got %T", ErrInvalidFrame, v)
	}
	var frame Frame

	op, ok := m[keyOpcode].(int64)
	if !ok || op < 0 || op > 255 {
		return Frame{}, fmt.Errorf("%w: missing or invalid opcode", ErrInvalidFrame)
	}
	frame.Opcode = Opcode(op)

	switch id := m[keyID].(type) {
	case nil:
	case int64:
		frame.SetID(id)
	case *big.Int:
		return Frame{}, fmt.Errorf("%w: correlation id %s out of range", ErrInvalidFrame, id)
	default:
		return Frame{}, fmt.Errorf("%w: correlation id has type %T", ErrInvalidFrame, id)
	}

	switch event := m[keyEvent].(type) {
	case nil:
	case []any:
		if len(event) > 0 {
			name, ok := event[0].(string)
			if !ok {
				return Frame{}, fmt.Errorf("%w: event name has type %T", ErrInvalidFrame, event[0])
			}
			frame.Event = name
		}
	case map[string]any:
		name, ok := event[keyName].(string)
		if !ok {
			return Frame{}, fmt.Errorf("%w: event map without name", ErrInvalidFrame)
		}
		frame.Event = name
	case string:
		frame.Event = event
	default:
		return Frame{}, fmt.Errorf("%w: event has type %T", ErrInvalidFrame, event)
	}

	if method, ok := m[keyMethod].(string); ok {
		frame.Method = Method(method)
	}
	if topic, ok := m[keyTopic].(string); ok {
		frame.Topic = topic
	}
	frame.Data = m[keyData]
	return frame, nil
}

// EncodeFrame serializes a frame into its binary form.
func EncodeFrame(f Frame) ([]byte, error) {
	text, err := ToWire(f.Value())
	if err != nil {
		return nil, err
	}
	return Pack(text)
}

// DecodeFrame parses a binary frame.
func DecodeFrame(b []byte) (Frame, error) {
	text, err := Unpack(b)
	if err != nil {
		return Frame{}, err
	}
	v, err := FromWire(text)
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(v)
}

// Encode serializes an arbitrary value through the wire text layer.
func Encode(v any) ([]byte, error) {
	text, err := ToWire(v)
	if err != nil {
		return nil, err
	}
	return Pack(text)
}

func Decode(b []byte) (any, error) {
	text, err := Unpack(b)
	if err != nil {
		return nil, err
	}
	return FromWire(text)
}

func isEmptyPayload(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	default:
		return false
	}
}
