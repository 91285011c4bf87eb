package tmorchestrator

// heightCursor is the last height the builder was told to start.
// It is only touched from the goroutine driving the Orchestrator.
type heightCursor struct {
	h     uint64
	valid bool
}

// at reports whether the builder is already working on height h.
func (c heightCursor) at(h uint64) bool {
	return c.valid && c.h == h
}

func (c *heightCursor) set(h uint64) {
	c.h = h
	c.valid = true
}
