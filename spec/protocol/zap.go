package protocol

import "go.uber.org/zap/zapcore"

var _ zapcore.ObjectMarshaler = (*ExchangeRequest)(nil)

func (m *ExchangeRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("version", m.Version.String())
	enc.AddUint64("requestingOrder", uint64(m.RequestingOrder))
	return nil
}

var _ zapcore.ObjectMarshaler = (*PartialMapReply)(nil)

func (m *PartialMapReply) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("version", m.Version.String())
	enc.AddUint64("sender", uint64(m.Sender))
	enc.AddInt("entries", len(m.Entries))
	return nil
}

var _ zapcore.ObjectMarshaler = (*FullMapBroadcast)(nil)

func (m *FullMapBroadcast) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("version", m.Version.String())
	enc.AddInt("caches", len(m.Maps))
	return nil
}

var _ zapcore.ObjectMarshaler = (*ClockDeltaSnapshot)(nil)

func (m *ClockDeltaSnapshot) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("deltaVersion", m.DeltaVersion().String())
	enc.AddInt64("deltaMillis", m.DeltaMillis)
	return nil
}
