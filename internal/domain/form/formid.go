package form

import (
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	lowMask  = 0x00000000ffffffff
	highMask = ^int64(lowMask)
)

// IDGenerator mints form ids whose high 32 bits carry the device hash.
type IDGenerator struct {
	udidHash int64
	seq      atomic.Uint32
}

// NewIDGenerator derives the device hash from deviceID.
func NewIDGenerator(deviceID string) *IDGenerator {
	g := &IDGenerator{udidHash: UDIDHash(deviceID)}
	g.seq.Store(uint32(time.Now().UnixNano()))
	return g
}

// UDIDHash places 31 bits of the device id hash in the high word so every
// generated id stays positive.
func UDIDHash(deviceID string) int64 {
	return int64(xxhash.Sum64String(deviceID)&0x7fffffff) << 32
}

// UDIDHash returns the cached device hash.
func (g *IDGenerator) UDIDHash() int64 {
	return g.udidHash
}

// Pad combines a short id with the device hash. Ids that already carry
// high bits are returned unchanged.
func (g *IDGenerator) Pad(formID int64) int64 {
	if formID&highMask != 0 {
		return formID
	}
	return g.udidHash | formID
}

// Next returns a fresh form id. The low word is never zero.
func (g *IDGenerator) Next() int64 {
	for {
		low := g.seq.Add(1)
		if low != 0 {
			return g.udidHash | int64(low)
		}
	}
}

// IsShortID reports whether formID has no device hash.
func IsShortID(formID int64) bool {
	return formID&highMask == 0
}

// LowBits returns the low word of formID.
func LowBits(formID int64) int64 {
	return formID & lowMask
}
