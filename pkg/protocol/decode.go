package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// now is replaced in tests
var now = time.Now

// Decode parses one inbound frame.
//
// On ErrMalformed the returned envelope is nil. For every other error the
// envelope is returned with Type and DeviceID filled in as far as they could
// be read, so the caller can still attribute and answer the failure.
func Decode(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: null", ErrMalformed)
	}

	env := &Envelope{Type: TypeUnknown}

	if raw, ok := present(fields, "type"); ok {
		var t string
		if err := json.Unmarshal(raw, &t); err != nil {
			return env, &InvalidFieldError{Type: TypeUnknown, Field: "type", Reason: "must be a string"}
		}
		env.Type = MessageType(t)
	}

	if raw, ok := present(fields, "deviceId"); ok {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return env, &InvalidFieldError{Type: env.Type, Field: "deviceId", Reason: "must be a string"}
		}
		env.DeviceID = id
	}

	msg, err := decodeMessage(env.Type, data, fields)
	if err != nil {
		return env, err
	}
	env.Message = msg
	return env, nil
}

func decodeMessage(t MessageType, data []byte, fields map[string]json.RawMessage) (Message, error) {
	switch t {
	case TypeRegister:
		m := &Register{DeviceName: DefaultDeviceName}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		if m.DeviceID == "" {
			return nil, &InvalidFieldError{Type: t, Field: "deviceId", Reason: "is required"}
		}
		if m.Capabilities == nil {
			m.Capabilities = []string{}
		}
		return m, nil

	case TypeGetDevices:
		return &GetDevices{}, nil

	case TypeCommand:
		if err := requireFields(t, fields, "targetId", "command"); err != nil {
			return nil, err
		}
		m := &Command{}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeBroadcast:
		if err := requireFields(t, fields, "command"); err != nil {
			return nil, err
		}
		m := &Broadcast{}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeVideoFrame:
		m := &VideoFrame{}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypePhoto:
		m := &Photo{Filename: fmt.Sprintf("photo_%d.jpg", now().Unix())}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeAudio:
		m := &Audio{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeAudioStream:
		m := &AudioStream{SampleRate: DefaultSampleRate}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeVoiceCommand:
		m := &VoiceCommand{}
		if err := unmarshalInto(t, data, m); err != nil {
			return nil, err
		}
		return m, nil

	case TypeGetStats:
		return &GetStats{}, nil

	default:
		return nil, &UnknownTypeError{Type: t}
	}
}

// unmarshalInto decodes data over the defaults already set in m. Absent or
// null fields keep their defaults.
func unmarshalInto(t MessageType, data []byte, m Message) error {
	err := json.Unmarshal(data, m)
	if err == nil {
		return nil
	}
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		return &InvalidFieldError{Type: t, Field: ute.Field, Reason: "has wrong type (got " + ute.Value + ")"}
	}
	return &InvalidFieldError{Type: t, Reason: err.Error()}
}

func requireFields(t MessageType, fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		if _, ok := present(fields, name); !ok {
			return &InvalidFieldError{Type: t, Field: name, Reason: "is required"}
		}
	}
	return nil
}

func present(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// DecodePayload decodes a standard base64 media payload. Line breaks inserted
// by MIME-style encoders are ignored.
func DecodePayload(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

// EncodePayload is the inverse of DecodePayload
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
