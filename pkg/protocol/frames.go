package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Header is embedded in every outbound frame
type Header struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}

// Frame is implemented by every outbound frame through its Header
type Frame interface {
	FrameType() MessageType
}

// FrameType returns the frame's "type"
func (h Header) FrameType() MessageType { return h.Type }

// NewHeader returns a header stamped with the current time
func NewHeader(t MessageType) Header {
	return Header{Type: t, Timestamp: Timestamp(now())}
}

// Timestamp converts t to epoch seconds with sub-second precision
func Timestamp(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// Registered acknowledges a REGISTER
type Registered struct {
	Header
	DeviceID         string `json:"deviceId"`
	Message          string `json:"message"`
	ConnectedDevices int    `json:"connected_devices"`
}

// DeviceEntry is one row of a DEVICE_LIST
type DeviceEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	LastSeen     float64  `json:"last_seen"`
	Status       string   `json:"status"`
}

// DeviceList reports the registered devices
type DeviceList struct {
	Header
	Devices []DeviceEntry `json:"devices"`
	Count   int           `json:"count"`
}

// CommandFrame is a command delivered to a device. Broadcast is set only on
// fan-out deliveries.
type CommandFrame struct {
	Header
	Command   string `json:"command"`
	FromID    string `json:"fromId"`
	Broadcast bool   `json:"broadcast,omitempty"`
}

// CommandSent acknowledges a delivered COMMAND
type CommandSent struct {
	Header
	TargetID string `json:"targetId"`
	Command  string `json:"command"`
	Message  string `json:"message"`
}

// BroadcastSent acknowledges a BROADCAST
type BroadcastSent struct {
	Header
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// VideoFrameForward relays a video frame to other devices
type VideoFrameForward struct {
	Header
	DeviceID string `json:"deviceId"`
	Frame    string `json:"frame"`
	Sequence int    `json:"sequence"`
	IsLast   bool   `json:"isLast"`
}

// FrameReceived acknowledges a VIDEO_FRAME
type FrameReceived struct {
	Header
	DeviceID  string `json:"deviceId"`
	Sequence  int    `json:"sequence"`
	Forwarded int    `json:"forwarded"`
	SavedAs   string `json:"saved_as,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PhotoForward relays a photo to other devices
type PhotoForward struct {
	Header
	DeviceID string `json:"deviceId"`
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

// PhotoReceived acknowledges a PHOTO
type PhotoReceived struct {
	Header
	DeviceID  string `json:"deviceId"`
	Filename  string `json:"filename"`
	SavedAs   string `json:"saved_as"`
	Size      int    `json:"size"`
	SizeStr   string `json:"size_str"`
	Forwarded int    `json:"forwarded"`
	Error     string `json:"error,omitempty"`
}

// AudioForward relays a recording to other devices
type AudioForward struct {
	Header
	DeviceID   string `json:"deviceId"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// AudioReceived acknowledges an AUDIO
type AudioReceived struct {
	Header
	DeviceID  string `json:"deviceId"`
	Filename  string `json:"filename"`
	Size      int    `json:"size"`
	SizeStr   string `json:"size_str"`
	Forwarded int    `json:"forwarded"`
	Error     string `json:"error,omitempty"`
}

// AudioStreamForward relays one stream chunk to other devices
type AudioStreamForward struct {
	Header
	DeviceID   string `json:"deviceId"`
	Audio      string `json:"audio"`
	Sequence   int    `json:"sequence"`
	IsLast     bool   `json:"isLast"`
	SampleRate int    `json:"sampleRate"`
}

// AudioStreamComplete reports a reassembled stream
type AudioStreamComplete struct {
	Header
	DeviceID string `json:"deviceId"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	SizeStr  string `json:"size_str"`
	Parts    int    `json:"parts"`
}

// VoiceCommandReceived echoes a VOICE_COMMAND
type VoiceCommandReceived struct {
	Header
	DeviceID   string  `json:"deviceId"`
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
}

// Stats reports the hub counters
type Stats struct {
	Header
	ConnectedDevices int    `json:"connected_devices"`
	TotalConnections int64  `json:"total_connections"`
	TotalFrames      int64  `json:"total_frames"`
	TotalPhotos      int64  `json:"total_photos"`
	TotalAudio       int64  `json:"total_audio"`
	Uptime           string `json:"uptime"`
}

// ErrorFrame reports a failure to the sender
type ErrorFrame struct {
	Header
	Message string `json:"message"`
}

// NewErrorFrame builds an ERROR frame
func NewErrorFrame(message string) *ErrorFrame {
	return &ErrorFrame{Header: NewHeader(TypeError), Message: message}
}

// Encode marshals an outbound frame
func Encode(frame Frame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}

// FormatSize renders a byte count the way acknowledgements report it:
// bytes below 1 KiB, one decimal of KB below 1 MiB, one decimal of MB above.
func FormatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
