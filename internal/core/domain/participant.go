package domain

import "time"

// Participant is one member of a session. The ID is minted at join time and
// is distinct from the transport channel identifier binding it to a
// connection.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	Role        Role
	Muted       bool
	Speaking    bool
	// SSRC identifies this participant's audio in outbound RTP frames.
	SSRC        uint32
	JoinedAt    time.Time
	LastAudioAt time.Time
}
