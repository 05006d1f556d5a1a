package audit

// ring is a fixed-capacity buffer that evicts the oldest element first.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(item T) {
	capacity := len(r.items)
	if r.size < capacity {
		r.items[(r.start+r.size)%capacity] = item
		r.size++
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % capacity
}

// snapshot returns the buffered items oldest first.
func (r *ring[T]) snapshot() []T {
	out := make([]T, 0, r.size)
	for index := 0; index < r.size; index++ {
		out = append(out, r.items[(r.start+index)%len(r.items)])
	}
	return out
}

func (r *ring[T]) len() int {
	return r.size
}
