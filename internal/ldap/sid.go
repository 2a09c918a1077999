package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
)

// minSIDLength is the revision, sub-authority count and identifier authority header.
const minSIDLength = 8

// SIDHandler provides SID operations for Active Directory.
// Active Directory stores SIDs in binary format that needs to be converted to human-readable strings.
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// ConvertBinarySIDToString converts a binary SID to its string representation.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) < minSIDLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}

	// The sub-authority count in byte 1 must match the payload.
	if want := minSIDLength + 4*int(binarySID[1]); len(binarySID) != want {
		return "", fmt.Errorf("invalid binary SID length: expected %d, got %d", want, len(binarySID))
	}

	sid := objectsid.Decode(binarySID)

	return sid.String(), nil
}
