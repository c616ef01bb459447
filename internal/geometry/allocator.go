package geometry

// Budget accounts for slab memory. *memory.Controller satisfies it.
type Budget interface {
	RequestMemory(streamID string, size int64) error
	ReleaseMemory(streamID string, size int64)
}

const slabAlign = 4096

// Allocator owns the two byte slabs a stream packs frames into. The front
// slab backs the block the host currently sees; frames are packed into the
// back slab and become visible only through Swap, so a failed decode never
// touches the front.
type Allocator struct {
	owner    string
	budget   Budget
	front    []byte
	back     []byte
	reserved int64
}

// NewAllocator creates an allocator charging owner's budget. budget may be nil.
func NewAllocator(owner string, budget Budget) *Allocator {
	return &Allocator{owner: owner, budget: budget}
}

// Back returns the back slab resized to size bytes, growing it if needed.
// Contents are unspecified.
func (a *Allocator) Back(size int) ([]byte, error) {
	if size <= cap(a.back) {
		return a.back[:size], nil
	}

	newCap := grownCapacity(size)
	need := int64(newCap - cap(a.back))
	if a.budget != nil {
		if err := a.budget.RequestMemory(a.owner, need); err != nil {
			return nil, err
		}
	}
	a.back = make([]byte, newCap)
	a.reserved += need
	return a.back[:size], nil
}

// Swap exchanges the slabs after a successful pack.
func (a *Allocator) Swap() {
	a.front, a.back = a.back, a.front
}

// Reserved returns the bytes charged to the budget.
func (a *Allocator) Reserved() int64 {
	return a.reserved
}

// Release drops both slabs and returns their reservation.
func (a *Allocator) Release() {
	if a.budget != nil && a.reserved > 0 {
		a.budget.ReleaseMemory(a.owner, a.reserved)
	}
	a.front, a.back = nil, nil
	a.reserved = 0
}

// grownCapacity leaves an eighth of headroom so small frame-to-frame growth
// does not reallocate, rounded up to whole pages.
func grownCapacity(size int) int {
	c := size + size/8
	if rem := c % slabAlign; rem != 0 {
		c += slabAlign - rem
	}
	return c
}
