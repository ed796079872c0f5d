package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewConnID returns a ULID used as the transport handle of a connection.
func NewConnID(now time.Time) (string, error) {
	return newULID(now)
}

// NewEnvelopeID returns a ULID used as server envelope id.
// ULIDs sort by time, which keeps log traces readable.
func NewEnvelopeID(now time.Time) (string, error) {
	return newULID(now)
}

func newULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
