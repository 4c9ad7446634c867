package generic

// Pool is a free-list of reusable values. Unlike sync.Pool it never drops
// values behind the caller's back, so counts stay exact and reuse order is
// deterministic (last released, first acquired).
type Pool[T any] struct {
	free     []T
	generate func() T
	count    int
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{generate: generate}
}

// NewHotPool creates a pool pre-filled with hotSize values.
func NewHotPool[T any](generate func() T, hotSize int) *Pool[T] {
	p := NewPool[T](generate)
	p.Expand(hotSize)
	return p
}

// Get returns a free value, generating a new one when the free-list is empty.
func (p *Pool[T]) Get() T {
	if n := len(p.free); n > 0 {
		value := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		return value
	}
	p.count++
	return p.generate()
}

// Put returns a value to the free-list.
func (p *Pool[T]) Put(value T) {
	p.free = append(p.free, value)
}

// Expand generates n additional free values.
func (p *Pool[T]) Expand(n int) {
	for i := 0; i < n; i++ {
		p.free = append(p.free, p.generate())
	}
	p.count += max(n, 0)
}

// TotalSize is the number of values ever generated by the pool.
func (p *Pool[T]) TotalSize() int { return p.count }

// TotalFree is the number of values waiting in the free-list.
func (p *Pool[T]) TotalFree() int { return len(p.free) }

// TotalUsed is the number of generated values currently handed out.
func (p *Pool[T]) TotalUsed() int { return p.count - len(p.free) }
