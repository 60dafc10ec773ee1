// Package id provides identifier generation for the framework.
//
// Three families are used:
//   - ULIDs for IPC request correlation (sortable, readable in logs)
//   - UUIDs for remote-object and token identities
//   - Sequences for process-local monotonic counters (record ids,
//     mission ids, timeout event ids, connection ids)
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// RequestID correlates one IPC request with its reply
type RequestID string

// ObjectID identifies a remote object (stub) across the transport
type ObjectID string

const (
	RequestPrefix = "req"
	ObjectPrefix  = "obj"
	TokenPrefix   = "tok"
	HostPrefix    = "host"
)

func (id RequestID) String() string { return string(id) }
func (id ObjectID) String() string  { return string(id) }

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator with crypto entropy
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// RequestTime extracts the creation time of a request ID
func RequestTime(id RequestID) (time.Time, error) {
	raw := strings.TrimPrefix(string(id), RequestPrefix+"_")
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ============================================================================
// UUID identities
// ============================================================================

// NewObjectID generates a remote object identity
func NewObjectID(prefix string) ObjectID {
	return ObjectID(prefix + "_" + uuid.NewString())
}

// ============================================================================
// Monotonic sequences
// ============================================================================

// Sequence hands out strictly increasing int64 values starting at 1
type Sequence struct {
	last atomic.Int64
}

// NewSequence creates a sequence whose first value is start+1
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.last.Store(start)
	return s
}

// Next returns the next value
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}
