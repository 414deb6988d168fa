package checkpoint

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NextVersion returns the channel version following current. Versions are
// zero-padded so that they sort lexically; the random suffix keeps versions
// minted by concurrent writers distinct.
func NextVersion(current string) string {
	var n int64
	if current != "" {
		head, _, _ := strings.Cut(current, ".")
		n, _ = strconv.ParseInt(head, 10, 64)
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	frac := binary.BigEndian.Uint64(b[:]) % 1e16
	return fmt.Sprintf("%032d.%016d", n+1, frac)
}

// NewCheckpointID returns a time-ordered checkpoint identifier.
func NewCheckpointID() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}
