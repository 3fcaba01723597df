package repo

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// randRead fills b with cryptographically random bytes. crypto/rand is the
// grounded stdlib choice for key material (see DESIGN.md); no pack example
// generates secrets any other way.
func randRead(b []byte) (int, error) {
	return rand.Read(b)
}

// randHex returns n random bytes hex-encoded, for generating short key ids.
func randHex(n int) string {
	var b = make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}
