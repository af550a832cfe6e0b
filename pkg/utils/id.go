package utils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session ID
func GenerateSessionID() string {
	return generateID("sess")
}

// GenerateParticipantID generates a unique participant ID
func GenerateParticipantID() string {
	return generateID("part")
}

// GenerateChannelID generates a unique transport channel ID
func GenerateChannelID() string {
	return generateID("chan")
}

// GenerateInstanceID identifies one relay process, used to key its presence
// records in Redis.
func GenerateInstanceID() string {
	return generateID("relay")
}

func generateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateSSRC returns a random nonzero synchronization source identifier.
func GenerateSSRC() uint32 {
	b := make([]byte, 4)
	for {
		rand.Read(b)
		if ssrc := binary.BigEndian.Uint32(b); ssrc != 0 {
			return ssrc
		}
	}
}
