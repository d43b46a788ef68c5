package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/billm/relayhub/pkg/metrics"
	"github.com/billm/relayhub/pkg/protocol"
	"github.com/billm/relayhub/pkg/stats"
	"github.com/billm/relayhub/pkg/storage"
	"github.com/billm/relayhub/pkg/stream"
	"github.com/billm/relayhub/pkg/types"
)

func (r *Router) handleRegister(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.Register](env)
	if err != nil {
		return err
	}

	s.bind(msg.DeviceID)
	count := r.registry.Register(msg.DeviceID, msg.DeviceName, msg.Capabilities, s.conn)
	r.stats.IncConnections()
	r.metrics.RecordRegistration()
	r.metrics.SetDevicesConnected(count)

	r.logger.Info("Device registered",
		"device_id", msg.DeviceID,
		"name", msg.DeviceName,
		"capabilities", msg.Capabilities,
		"conn_id", s.conn.ID(),
		"connected_devices", count)

	r.reply(ctx, s, &protocol.Registered{
		Header:           protocol.NewHeader(protocol.TypeRegistered),
		DeviceID:         msg.DeviceID,
		Message:          "registered successfully",
		ConnectedDevices: count,
	})
	r.broadcastDeviceList(ctx)
	return nil
}

func (r *Router) handleGetDevices(ctx context.Context, s *Session, env *protocol.Envelope) error {
	r.reply(ctx, s, r.deviceList())
	return nil
}

func (r *Router) handleCommand(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.Command](env)
	if err != nil {
		return err
	}

	from := msg.FromID
	if from == "" {
		from = s.DeviceID()
	}

	target, ok := r.registry.Lookup(msg.TargetID)
	if !ok {
		return types.NewError(types.ErrCodeNotFound, fmt.Sprintf("device %s is not connected", msg.TargetID))
	}

	frame := &protocol.CommandFrame{
		Header:  protocol.NewHeader(protocol.TypeCommand),
		Command: msg.Command,
		FromID:  from,
	}
	if err := r.send(ctx, target, frame); err != nil {
		if r.registry.UnregisterConn(msg.TargetID, target) {
			r.metrics.SetDevicesConnected(r.registry.Count())
		}
		target.Close()
		return types.WrapError(types.ErrCodeUnavailable,
			fmt.Sprintf("device %s is not connected", msg.TargetID), err)
	}

	r.logger.Info("Command sent",
		"from_id", from,
		"target_id", msg.TargetID,
		"command", msg.Command)

	r.reply(ctx, s, &protocol.CommandSent{
		Header:   protocol.NewHeader(protocol.TypeCommandSent),
		TargetID: msg.TargetID,
		Command:  msg.Command,
		Message:  "command sent",
	})
	return nil
}

func (r *Router) handleBroadcast(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.Broadcast](env)
	if err != nil {
		return err
	}

	from := msg.FromID
	if from == "" {
		from = s.DeviceID()
	}

	sent, err := r.broadcaster.Broadcast(ctx, &protocol.CommandFrame{
		Header:    protocol.NewHeader(protocol.TypeCommand),
		Command:   msg.Command,
		FromID:    from,
		Broadcast: true,
	}, from)
	if err != nil {
		return err
	}

	r.logger.Info("Command broadcast", "from_id", from, "command", msg.Command, "sent", sent)

	r.reply(ctx, s, &protocol.BroadcastSent{
		Header:  protocol.NewHeader(protocol.TypeBroadcastSent),
		Count:   sent,
		Message: fmt.Sprintf("command sent to %d devices", sent),
	})
	return nil
}

func (r *Router) handleVideoFrame(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.VideoFrame](env)
	if err != nil {
		return err
	}

	r.stats.IncFrames()
	deviceID := s.DeviceID()
	ack := &protocol.FrameReceived{
		Header:   protocol.NewHeader(protocol.TypeFrameReceived),
		DeviceID: deviceID,
		Sequence: msg.Sequence,
	}

	data, err := protocol.DecodePayload(msg.Frame)
	if err != nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorDecode)
		r.logger.Warn("Failed to decode video frame", "device_id", deviceID, "sequence", msg.Sequence, "error", err)
		ack.Error = "failed to decode frame"
		r.reply(ctx, s, ack)
		return nil
	}
	r.metrics.RecordMediaBytes(string(env.Type), len(data))
	r.logger.Debug("Video frame received",
		"device_id", deviceID,
		"sequence", msg.Sequence,
		"size", protocol.FormatSize(len(data)),
		"is_last", msg.IsLast)

	if msg.IsLast {
		name := storage.FileName(storage.KindVideo, deviceID, r.now())
		ack.SavedAs, _ = r.store(ctx, deviceID, storage.KindVideo, data, name)
	}

	header := protocol.NewHeader(protocol.TypeVideoFrame)
	if msg.Timestamp != nil {
		header.Timestamp = *msg.Timestamp
	}
	sent, err := r.broadcaster.Broadcast(ctx, &protocol.VideoFrameForward{
		Header:   header,
		DeviceID: deviceID,
		Frame:    msg.Frame,
		Sequence: msg.Sequence,
		IsLast:   msg.IsLast,
	}, deviceID)
	if err != nil {
		return err
	}

	ack.Forwarded = sent
	r.reply(ctx, s, ack)
	return nil
}

func (r *Router) handlePhoto(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.Photo](env)
	if err != nil {
		return err
	}

	r.stats.IncPhotos()
	deviceID := s.DeviceID()
	ack := &protocol.PhotoReceived{
		Header:   protocol.NewHeader(protocol.TypePhotoReceived),
		DeviceID: deviceID,
		Filename: msg.Filename,
	}

	data, err := protocol.DecodePayload(msg.Image)
	if err != nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorDecode)
		r.logger.Warn("Failed to decode photo", "device_id", deviceID, "filename", msg.Filename, "error", err)
		ack.SizeStr = protocol.FormatSize(0)
		ack.Error = "failed to decode image"
		r.reply(ctx, s, ack)
		return nil
	}
	r.metrics.RecordMediaBytes(string(env.Type), len(data))
	ack.Size = len(data)
	ack.SizeStr = protocol.FormatSize(len(data))

	name := storage.FileName(storage.KindPhoto, deviceID, r.now())
	saved, err := r.store(ctx, deviceID, storage.KindPhoto, data, name)
	if err != nil {
		ack.Error = "failed to store photo"
	}
	ack.SavedAs = saved

	sent, err := r.broadcaster.Broadcast(ctx, &protocol.PhotoForward{
		Header:   protocol.NewHeader(protocol.TypePhoto),
		DeviceID: deviceID,
		Image:    msg.Image,
		Filename: msg.Filename,
	}, deviceID)
	if err != nil {
		return err
	}

	r.logger.Info("Photo received",
		"device_id", deviceID,
		"filename", msg.Filename,
		"size", ack.SizeStr,
		"forwarded", sent)

	ack.Forwarded = sent
	r.reply(ctx, s, ack)
	return nil
}

func (r *Router) handleAudio(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.Audio](env)
	if err != nil {
		return err
	}

	r.stats.IncAudio()
	deviceID := s.DeviceID()
	name := storage.FileName(storage.KindAudio, deviceID, r.now())
	ack := &protocol.AudioReceived{
		Header:   protocol.NewHeader(protocol.TypeAudioReceived),
		DeviceID: deviceID,
		Filename: name,
	}

	data, err := protocol.DecodePayload(msg.Audio)
	if err != nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorDecode)
		r.logger.Warn("Failed to decode audio", "device_id", deviceID, "error", err)
		ack.SizeStr = protocol.FormatSize(0)
		ack.Error = "failed to decode audio"
		r.reply(ctx, s, ack)
		return nil
	}
	r.metrics.RecordMediaBytes(string(env.Type), len(data))
	ack.Size = len(data)
	ack.SizeStr = protocol.FormatSize(len(data))

	if _, err := r.store(ctx, deviceID, storage.KindAudio, data, name); err != nil {
		ack.Error = "failed to store audio"
	}

	sent, err := r.broadcaster.Broadcast(ctx, &protocol.AudioForward{
		Header:     protocol.NewHeader(protocol.TypeAudio),
		DeviceID:   deviceID,
		Audio:      msg.Audio,
		SampleRate: msg.SampleRate,
		Channels:   msg.Channels,
	}, deviceID)
	if err != nil {
		return err
	}

	r.logger.Info("Audio received",
		"device_id", deviceID,
		"size", ack.SizeStr,
		"sample_rate", msg.SampleRate,
		"channels", msg.Channels,
		"duration", msg.Duration,
		"forwarded", sent)

	ack.Forwarded = sent
	r.reply(ctx, s, ack)
	return nil
}

func (r *Router) handleAudioStream(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.AudioStream](env)
	if err != nil {
		return err
	}

	deviceID := s.DeviceID()
	if deviceID == "" {
		return types.NewError(types.ErrCodeFailedPrecondition, "device not registered")
	}
	defer func() { r.metrics.SetActiveStreams(r.streams.Active()) }()

	appendErr := r.streams.Append(deviceID, msg.Sequence, msg.Audio)

	if _, err := r.broadcaster.Broadcast(ctx, &protocol.AudioStreamForward{
		Header:     protocol.NewHeader(protocol.TypeAudioStream),
		DeviceID:   deviceID,
		Audio:      msg.Audio,
		Sequence:   msg.Sequence,
		IsLast:     msg.IsLast,
		SampleRate: msg.SampleRate,
	}, deviceID); err != nil {
		return err
	}

	var evicted *stream.EvictedError
	if errors.As(appendErr, &evicted) {
		r.metrics.RecordStreamEviction(string(evicted.Reason))
		if msg.IsLast {
			r.streams.Complete(deviceID)
		}
		return appendErr
	}
	if errors.Is(appendErr, stream.ErrStreamDropped) {
		r.logger.Debug("Dropped chunk of evicted audio stream", "device_id", deviceID, "sequence", msg.Sequence)
		appendErr = nil
	}
	if appendErr != nil {
		return appendErr
	}

	if !msg.IsLast {
		return nil
	}

	res, ok, err := r.streams.Complete(deviceID)
	if !ok {
		r.logger.Debug("Terminal chunk without a buffered stream", "device_id", deviceID, "sequence", msg.Sequence)
		return nil
	}
	if err != nil {
		r.metrics.RecordEnvelopeError(metrics.ErrorDecode)
		return types.WrapError(types.ErrCodeInvalidArgument, "failed to decode audio stream", err)
	}
	r.metrics.RecordStreamMerged()
	r.metrics.RecordMediaBytes(string(env.Type), len(res.Data))

	name := storage.FileName(storage.KindAudioStream, deviceID, r.now())
	if saved, err := r.store(ctx, deviceID, storage.KindAudioStream, res.Data, name); err == nil && saved != "" {
		name = saved
	}

	r.logger.Info("Audio stream completed",
		"device_id", deviceID,
		"parts", res.Parts,
		"size", protocol.FormatSize(len(res.Data)))

	r.reply(ctx, s, &protocol.AudioStreamComplete{
		Header:   protocol.NewHeader(protocol.TypeAudioStreamComplete),
		DeviceID: deviceID,
		Filename: name,
		Size:     len(res.Data),
		SizeStr:  protocol.FormatSize(len(res.Data)),
		Parts:    res.Parts,
	})
	return nil
}

func (r *Router) handleVoiceCommand(ctx context.Context, s *Session, env *protocol.Envelope) error {
	msg, err := messageAs[*protocol.VoiceCommand](env)
	if err != nil {
		return err
	}

	deviceID := s.DeviceID()
	r.logger.Info("Voice command received",
		"device_id", deviceID,
		"text", msg.Text,
		"confidence", msg.Confidence,
		"intent", string(DetectIntent(msg.Text)))

	r.reply(ctx, s, &protocol.VoiceCommandReceived{
		Header:     protocol.NewHeader(protocol.TypeVoiceCommandReceived),
		DeviceID:   deviceID,
		Command:    msg.Text,
		Confidence: msg.Confidence,
	})
	return nil
}

func (r *Router) handleGetStats(ctx context.Context, s *Session, env *protocol.Envelope) error {
	snap := r.stats.Snapshot(r.registry.Count())
	r.reply(ctx, s, &protocol.Stats{
		Header:           protocol.NewHeader(protocol.TypeStats),
		ConnectedDevices: snap.ConnectedDevices,
		TotalConnections: snap.TotalConnections,
		TotalFrames:      snap.TotalFrames,
		TotalPhotos:      snap.TotalPhotos,
		TotalAudio:       snap.TotalAudio,
		Uptime:           stats.FormatUptime(snap.Uptime),
	})
	return nil
}
