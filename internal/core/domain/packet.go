package domain

// AudioPacket is one opaque audio frame in flight between a sender and the
// router. Sequence numbers are per-(session, sender) and strictly increasing
// modulo 2^16; gaps signal loss. The router never reorders packets, only the
// receiver's jitter buffer does.
type AudioPacket struct {
	SenderID  ParticipantID
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Payload   []byte
}
