package protocol

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Integer fields accept any JSON number without a fractional part, so 1.0
// decodes as 1.

func (m *VideoFrame) UnmarshalJSON(data []byte) error {
	type plain VideoFrame
	aux := struct {
		*plain
		Sequence json.RawMessage `json:"sequence"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return wholeNumber("sequence", aux.Sequence, &m.Sequence)
}

func (m *Audio) UnmarshalJSON(data []byte) error {
	type plain Audio
	aux := struct {
		*plain
		SampleRate json.RawMessage `json:"sampleRate"`
		Channels   json.RawMessage `json:"channels"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := wholeNumber("sampleRate", aux.SampleRate, &m.SampleRate); err != nil {
		return err
	}
	return wholeNumber("channels", aux.Channels, &m.Channels)
}

func (m *AudioStream) UnmarshalJSON(data []byte) error {
	type plain AudioStream
	aux := struct {
		*plain
		Sequence   json.RawMessage `json:"sequence"`
		SampleRate json.RawMessage `json:"sampleRate"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := wholeNumber("sequence", aux.Sequence, &m.Sequence); err != nil {
		return err
	}
	return wholeNumber("sampleRate", aux.SampleRate, &m.SampleRate)
}

// wholeNumber stores raw in dst when it is a JSON number with no fractional
// part. Absent and null values leave dst unchanged.
func wholeNumber(field string, raw json.RawMessage, dst *int) error {
	s := string(bytes.TrimSpace(raw))
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return &json.UnmarshalTypeError{Value: jsonKind(s), Type: reflect.TypeOf(int(0)), Field: field}
	}
	*dst = int(f)
	return nil
}

func jsonKind(s string) string {
	switch s[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	default:
		return "number " + s
	}
}
