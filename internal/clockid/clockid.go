// Package clockid implements component I: machine/agent/memory identity and
// the Lamport (counter, machine_id) logical clock.
//
// ID generation follows the teacher's base36 hashing scheme
// (idgen.EncodeBase36) but memory IDs are ULID-shaped per spec §3
// ({machine_id}:{ulid}) rather than content-hashed, since memories are
// mutable and a content hash would not survive an update.
package clockid

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 encodes data as a zero-padded/truncated base36 string of the
// given length. Grounded on the teacher's internal/idgen/hash.go.
func EncodeBase36(data []byte, length int) string {
	n := new(big.Int).SetBytes(data)
	base := big.NewInt(36)
	mod := new(big.Int)

	var digits []byte
	zero := big.NewInt(0)
	for n.Cmp(zero) > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, base36Alphabet[mod.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	s := string(digits)
	if len(s) >= length {
		return s[len(s)-length:]
	}
	pad := make([]byte, length-len(s))
	for i := range pad {
		pad[i] = '0'
	}
	return string(pad) + s
}

// NewMachineID derives a 12-character machine identifier from a random
// seed; each call returns a fresh identifier. collectived calls it at
// startup when its config sets no machine_id, and does not persist the
// result.
func NewMachineID() string {
	var seed [16]byte
	_, _ = rand.Read(seed[:])
	sum := sha256.Sum256(seed[:])
	return EncodeBase36(sum[:], 12)
}

// Clock hands out Lamport version values for one machine. Every counter it
// issues for that machine is strictly increasing; safe for concurrent use.
type Clock struct {
	machineID string
	mu        sync.Mutex
	counter   uint64
}

// NewClock returns a Clock seeded at counter 0 for machineID.
func NewClock(machineID string) *Clock {
	return &Clock{machineID: machineID}
}

// MachineID returns the clock's owning machine.
func (c *Clock) MachineID() string { return c.machineID }

// Next returns the next (counter, machine_id) pair, strictly greater than
// every pair previously issued by this Clock.
func (c *Clock) Next() (counter uint64, machineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter, c.machineID
}

// Observe advances the clock's counter past an externally observed value,
// the Lamport merge rule: local counter becomes max(local, observed)+0,
// then the next Next() call issues observed+1 or higher.
func (c *Clock) Observe(counter uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counter > c.counter {
		c.counter = counter
	}
}

// NewMemoryID mints a globally unique memory id: {machine_id}:{ulid}.
// A UUIDv7 stands in for a ULID here (teacher dependency google/uuid
// supports v7, which is time-sortable like a ULID).
func NewMemoryID(machineID string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s:%s", machineID, id.String())
}

// NewAgentID mints an agent id scoped to a machine.
func NewAgentID(machineID string) string {
	return fmt.Sprintf("%s:agent-%s", machineID, shortRandom())
}

// NewTaskID mints a task id.
func NewTaskID() string {
	return fmt.Sprintf("task-%s", shortRandom())
}

// NewBroadcastID mints a broadcast id.
func NewBroadcastID() string {
	return fmt.Sprintf("bcast-%s", shortRandom())
}

func shortRandom() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return EncodeBase36(b[:], 10)
}

// WallNow is the single source of wall-clock time for the package, kept as
// a var so tests can stub it.
var WallNow = time.Now
