package chain

import "fmt"

// State is the ordered list of block hashes the driver has produced. Height
// h (1-indexed) is Hashes()[h-1]. It is owned by a single goroutine.
type State struct {
	hashes []string
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// Append records newly produced blocks in order.
func (s *State) Append(hashes ...string) {
	s.hashes = append(s.hashes, hashes...)
}

// BlockCount returns the number of blocks produced.
func (s *State) BlockCount() int {
	return len(s.hashes)
}

// HashAt returns the hash of the block at height h.
func (s *State) HashAt(h int) (string, error) {
	if h < 1 || h > len(s.hashes) {
		return "", fmt.Errorf("height %d out of range [1, %d]", h, len(s.hashes))
	}
	return s.hashes[h-1], nil
}

// Hashes returns a copy of every recorded hash in height order.
func (s *State) Hashes() []string {
	out := make([]string, len(s.hashes))
	copy(out, s.hashes)
	return out
}

// Tip returns the most recent hash, if any.
func (s *State) Tip() (string, bool) {
	if len(s.hashes) == 0 {
		return "", false
	}
	return s.hashes[len(s.hashes)-1], true
}
