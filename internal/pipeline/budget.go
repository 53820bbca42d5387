package pipeline

// Budget counts documents processed in one run against an optional limit.
// It is created per run and passed to whatever consumes documents.
type Budget struct {
	limit int
	used  int
}

// NewBudget returns a budget of limit documents; limit <= 0 is unbounded.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Take reserves one document. It returns false once the limit is reached.
func (b *Budget) Take() bool {
	if b.limit > 0 && b.used >= b.limit {
		return false
	}
	b.used++
	return true
}

func (b *Budget) Used() int { return b.used }

// Remaining returns how many documents may still be taken, or -1 when
// unbounded.
func (b *Budget) Remaining() int {
	if b.limit <= 0 {
		return -1
	}
	return b.limit - b.used
}

// Exhausted reports whether Take would fail.
func (b *Budget) Exhausted() bool {
	return b.limit > 0 && b.used >= b.limit
}
