package domain

// Event is a server-to-client notification delivered through the same
// per-channel fan-out as audio, just with a different payload kind.
// Serialization to the wire envelope happens in the transport adapter.
type Event interface {
	EventType() string
}

// ParticipantInfo is the roster entry shape shared by join events.
type ParticipantInfo struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"display_name,omitempty"`
	Role        Role          `json:"role"`
	Muted       bool          `json:"muted"`
	Speaking    bool          `json:"speaking"`
	SSRC        uint32        `json:"ssrc"`
}

type JoinAccepted struct {
	SessionID     SessionID         `json:"session_id"`
	ParticipantID ParticipantID     `json:"participant_id"`
	Role          Role              `json:"role"`
	SSRC          uint32            `json:"ssrc"`
	Roster        []ParticipantInfo `json:"roster"`
}

type JoinRejected struct {
	Reason string `json:"reason"`
}

type ParticipantJoined struct {
	SessionID   SessionID       `json:"session_id"`
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantLeft struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
}

type RoleChanged struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Role          Role          `json:"role"`
	ChangedBy     ParticipantID `json:"changed_by"`
}

type MuteChanged struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Muted         bool          `json:"muted"`
	ChangedBy     ParticipantID `json:"changed_by"`
}

type SpeakingChanged struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Speaking      bool          `json:"speaking"`
}

type SessionClosed struct {
	SessionID SessionID `json:"session_id"`
}

func (JoinAccepted) EventType() string      { return "join_accepted" }
func (JoinRejected) EventType() string      { return "join_rejected" }
func (ParticipantJoined) EventType() string { return "participant_joined" }
func (ParticipantLeft) EventType() string   { return "participant_left" }
func (RoleChanged) EventType() string       { return "role_changed" }
func (MuteChanged) EventType() string       { return "mute_changed" }
func (SpeakingChanged) EventType() string   { return "speaking_changed" }
func (SessionClosed) EventType() string     { return "session_closed" }
