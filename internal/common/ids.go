package common

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu   sync.Mutex
	ulidMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ulidMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// NewSortableID returns a ULID for t. IDs generated in the same millisecond
// stay lexicographically increasing, so audit records sort by creation.
func NewSortableID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), ulidMono)
	if err != nil {
		// only fails when the clock runs backwards within a millisecond
		// burst; fall back to fresh entropy
		return ulid.MustNew(ulid.Timestamp(t.UTC()), cryptoRand.Reader).String()
	}
	return id.String()
}

// NewRequestID returns a random correlation ID.
func NewRequestID() string {
	return uuid.New().String()
}
