package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	m       sync.Mutex
)

// NewULID returns a lower-cased, monotonically increasing ULID. Used to name throwaway databases.
func NewULID() string {
	m.Lock()
	defer m.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// NewIdentifierSuffix returns a random string that is safe to append to a SQL identifier.
func NewIdentifierSuffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
