package engine

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/floodsync/internal/ir"
)

// IDGenerator generates SOS record ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("sos-1", "sos-2")
//	gen.Generate() // "sos-1"
//	gen.Generate() // "sos-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, to catch test misconfiguration.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Rescuer ids are drawn from [MinRescuerID, MaxRescuerID], which keeps the
// reserved "000" out of reach.
const (
	MinRescuerID = 100
	MaxRescuerID = 999

	// MaxAllocationAttempts bounds AllocateRescuerID.
	MaxAllocationAttempts = 1000
)

// RescuerIDSource draws a candidate rescuer number.
type RescuerIDSource func() int

// RandomRescuerIDs draws uniformly from [MinRescuerID, MaxRescuerID].
func RandomRescuerIDs() int {
	return MinRescuerID + rand.Intn(MaxRescuerID-MinRescuerID+1)
}

// SequenceRescuerIDs returns a source that yields nums in order and then
// repeats the last one. Intended for tests.
func SequenceRescuerIDs(nums ...int) RescuerIDSource {
	var mu sync.Mutex
	i := 0
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		n := nums[i]
		if i < len(nums)-1 {
			i++
		}
		return n
	}
}

// AllocateRescuerID returns a 3-digit id that is not "000", not outside the
// allowed range and not used by anyone in roster. It gives up after
// MaxAllocationAttempts draws.
func AllocateRescuerID(roster []ir.Rescuer, draw RescuerIDSource) (string, error) {
	taken := make(map[string]struct{}, len(roster)+1)
	taken[ir.SincereTeamID] = struct{}{}
	for _, r := range roster {
		taken[r.ID] = struct{}{}
	}

	for attempt := 0; attempt < MaxAllocationAttempts; attempt++ {
		n := draw()
		if n < MinRescuerID || n > MaxRescuerID {
			continue
		}
		id := fmt.Sprintf("%03d", n)
		if _, dup := taken[id]; dup {
			continue
		}
		return id, nil
	}
	return "", newError(ErrCodeAllocationExhausted, "register_rescuer", "",
		fmt.Sprintf("no free rescuer id after %d attempts", MaxAllocationAttempts), nil)
}
