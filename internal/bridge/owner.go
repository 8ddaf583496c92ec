package bridge

import "sync/atomic"

// Liveness reports whether the object an operation was started on is still
// held by someone. Publishers consult it before dispatching and again when
// the vendor callback fires.
type Liveness interface {
	Alive() bool
}

// Owner is an explicit release handle. References embed one so that callers
// can let go of them while a vendor call is in flight; any result arriving
// afterwards is dropped. A nil *Owner is always alive.
type Owner struct {
	released atomic.Bool
}

// NewOwner returns a live owner.
func NewOwner() *Owner {
	return &Owner{}
}

// Alive reports whether Release has not been called yet.
func (o *Owner) Alive() bool {
	return o == nil || !o.released.Load()
}

// Release marks the owner as gone. It is idempotent.
func (o *Owner) Release() {
	if o != nil {
		o.released.Store(true)
	}
}

// alive treats a nil Liveness as always alive.
func alive(l Liveness) bool {
	return l == nil || l.Alive()
}
