// Package tier describes the two storage classes pages are placed in. A
// Tier's Used field is deliberately not atomic: the fault task and the
// policy task both mutate it, and a migration updates the source and the
// destination tier's Used as a pair that must be observed together, so the
// caller (internal/manager) serializes access with a single migration mutex
// rather than making the field itself atomic.
package tier

import "fmt"

// Kind names a tier. Unknown is the zero value, used only before a page's
// first fault resolution assigns it a real tier.
type Kind int32

const (
	Unknown Kind = iota
	Fast
	Slow
)

// String renders the tier kind for logs and status output.
func (k Kind) String() string {
	switch k {
	case Fast:
		return "fast"
	case Slow:
		return "slow"
	default:
		return "unknown"
	}
}

// Latency describes the informational read/write latency hint for a tier.
type Latency struct {
	ReadNS  int64
	WriteNS int64
}

// Tier is one storage class: a human name, a byte capacity, and the byte
// usage accounted against it. Usage is owned by internal/manager's
// migration mutex, not by Tier itself.
type Tier struct {
	Name     string
	Kind     Kind
	Capacity int64
	Used     int64
	Latency  Latency
}

// HasRoom reports whether one more page fits within capacity.
func (t *Tier) HasRoom(pageSize int64) bool {
	return t.Used+pageSize <= t.Capacity
}

// String renders a one-line usage summary.
func (t *Tier) String() string {
	return fmt.Sprintf("%s: %d/%d bytes used", t.Name, t.Used, t.Capacity)
}

// Defaults for the two tiers, per the tunables table in spec.md §6.
const (
	DefaultFastCapacity = 4 << 30  // 4 GiB
	DefaultSlowCapacity = 16 << 30 // 16 GiB
)

// NewFast returns the default Fast tier record.
func NewFast() *Tier {
	return &Tier{
		Name:     "fast",
		Kind:     Fast,
		Capacity: DefaultFastCapacity,
		Latency:  Latency{ReadNS: 80, WriteNS: 100},
	}
}

// NewSlow returns the default Slow tier record.
func NewSlow() *Tier {
	return &Tier{
		Name:     "slow",
		Kind:     Slow,
		Capacity: DefaultSlowCapacity,
		Latency:  Latency{ReadNS: 300, WriteNS: 500},
	}
}
