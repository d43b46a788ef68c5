package protocol

// MessageType is the "type" discriminant of an envelope
type MessageType string

// Inbound message types
const (
	TypeRegister     MessageType = "REGISTER"
	TypeGetDevices   MessageType = "GET_DEVICES"
	TypeCommand      MessageType = "COMMAND"
	TypeBroadcast    MessageType = "BROADCAST"
	TypeVideoFrame   MessageType = "VIDEO_FRAME"
	TypePhoto        MessageType = "PHOTO"
	TypeAudio        MessageType = "AUDIO"
	TypeAudioStream  MessageType = "AUDIO_STREAM"
	TypeVoiceCommand MessageType = "VOICE_COMMAND"
	TypeGetStats     MessageType = "GET_STATS"

	// TypeUnknown is assigned to envelopes that carry no "type" field
	TypeUnknown MessageType = "unknown"
)

// Outbound frame types. COMMAND, VIDEO_FRAME, PHOTO, AUDIO and AUDIO_STREAM
// are also sent by the hub when forwarding.
const (
	TypeRegistered           MessageType = "REGISTERED"
	TypeDeviceList           MessageType = "DEVICE_LIST"
	TypeCommandSent          MessageType = "COMMAND_SENT"
	TypeBroadcastSent        MessageType = "BROADCAST_SENT"
	TypeFrameReceived        MessageType = "FRAME_RECEIVED"
	TypePhotoReceived        MessageType = "PHOTO_RECEIVED"
	TypeAudioReceived        MessageType = "AUDIO_RECEIVED"
	TypeAudioStreamComplete  MessageType = "AUDIO_STREAM_COMPLETE"
	TypeVoiceCommandReceived MessageType = "VOICE_COMMAND_RECEIVED"
	TypeStats                MessageType = "STATS"
	TypeError                MessageType = "ERROR"
)

// InboundTypes lists every message type a device may send, in the order
// they are documented.
var InboundTypes = []MessageType{
	TypeRegister,
	TypeGetDevices,
	TypeCommand,
	TypeBroadcast,
	TypeVideoFrame,
	TypePhoto,
	TypeAudio,
	TypeAudioStream,
	TypeVoiceCommand,
	TypeGetStats,
}

// Field defaults applied when a device omits them
const (
	DefaultDeviceName = "Unknown device"
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

// Message is implemented by every inbound message variant. The set is
// closed: only types in this package satisfy it.
type Message interface {
	Type() MessageType
	isMessage()
}

// Register binds the connection to a device id
type Register struct {
	DeviceID     string   `json:"deviceId"`
	DeviceName   string   `json:"deviceName"`
	Capabilities []string `json:"capabilities"`
}

// GetDevices asks for the current device list
type GetDevices struct{}

// Command is a point-to-point command for TargetID
type Command struct {
	TargetID string `json:"targetId"`
	Command  string `json:"command"`
	FromID   string `json:"fromId"`
}

// Broadcast is a command for every device except FromID
type Broadcast struct {
	Command string `json:"command"`
	FromID  string `json:"fromId"`
}

// VideoFrame carries one encoded video frame
type VideoFrame struct {
	Frame    string `json:"frame"`
	Sequence int    `json:"sequence"`
	IsLast   bool   `json:"isLast"`
	// Timestamp is the sender's capture time, forwarded unchanged when present
	Timestamp *float64 `json:"timestamp"`
}

// Photo carries one encoded image
type Photo struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

// Audio carries one complete encoded recording
type Audio struct {
	Audio      string  `json:"audio"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"`
}

// AudioStream carries one chunk of a live audio stream
type AudioStream struct {
	Audio      string `json:"audio"`
	Sequence   int    `json:"sequence"`
	IsLast     bool   `json:"isLast"`
	SampleRate int    `json:"sampleRate"`
}

// VoiceCommand carries recognized speech from a device
type VoiceCommand struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Audio      string  `json:"audio"`
}

// GetStats asks for the hub counters
type GetStats struct{}

func (*Register) Type() MessageType     { return TypeRegister }
func (*GetDevices) Type() MessageType   { return TypeGetDevices }
func (*Command) Type() MessageType      { return TypeCommand }
func (*Broadcast) Type() MessageType    { return TypeBroadcast }
func (*VideoFrame) Type() MessageType   { return TypeVideoFrame }
func (*Photo) Type() MessageType        { return TypePhoto }
func (*Audio) Type() MessageType        { return TypeAudio }
func (*AudioStream) Type() MessageType  { return TypeAudioStream }
func (*VoiceCommand) Type() MessageType { return TypeVoiceCommand }
func (*GetStats) Type() MessageType     { return TypeGetStats }

func (*Register) isMessage()     {}
func (*GetDevices) isMessage()   {}
func (*Command) isMessage()      {}
func (*Broadcast) isMessage()    {}
func (*VideoFrame) isMessage()   {}
func (*Photo) isMessage()        {}
func (*Audio) isMessage()        {}
func (*AudioStream) isMessage()  {}
func (*VoiceCommand) isMessage() {}
func (*GetStats) isMessage()     {}

// Envelope is a decoded inbound message
type Envelope struct {
	Type MessageType
	// DeviceID is the envelope-level "deviceId", empty when absent
	DeviceID string
	Message  Message
}
