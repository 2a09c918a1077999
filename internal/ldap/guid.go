package ldap

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GUIDHandler provides GUID operations for Active Directory.
// Active Directory stores GUIDs in a mixed-endian format that differs from standard UUID byte ordering.
type GUIDHandler struct{}

// NewGUIDHandler creates a new GUID handler instance.
func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

const (
	GUIDBytesLength  = 16 // Binary objectGUID size
	GUIDStringLength = 36 // Hyphenated GUID string length
)

// swapGUIDByteOrder converts between the Active Directory wire order and RFC 4122 order.
// The first three groups (4, 2 and 2 bytes) are little-endian, the last 8 bytes are kept.
func swapGUIDByteOrder(src []byte) [GUIDBytesLength]byte {
	var dst [GUIDBytesLength]byte

	dst[0], dst[1], dst[2], dst[3] = src[3], src[2], src[1], src[0]
	dst[4], dst[5] = src[5], src[4]
	dst[6], dst[7] = src[7], src[6]
	copy(dst[8:], src[8:GUIDBytesLength])

	return dst
}

// GUIDBytesToString converts Active Directory GUID bytes to standard string format.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	return uuid.UUID(swapGUIDByteOrder(guidBytes)).String(), nil
}

// FormatGUIDValue renders a raw objectGUID value for a profile. A 16-byte value
// yields a GUIDStringLength hyphenated string; other lengths cannot be
// reordered and are rendered as plain hex.
func (g *GUIDHandler) FormatGUIDValue(raw []byte) string {
	guid, err := g.GUIDBytesToString(raw)
	if err != nil {
		return hex.EncodeToString(raw)
	}
	return guid
}
