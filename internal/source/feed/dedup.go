package feed

import "github.com/otiai10/quakecast/internal/quake"

// signatureSet remembers delivered signatures. With max > 0 the oldest entry
// is evicted once the set grows beyond max; otherwise it grows without bound.
// It is owned by the connector's loop goroutine and is not locked.
type signatureSet struct {
	seen  map[quake.Signature]struct{}
	order []quake.Signature // for FIFO eviction
	max   int
}

func newSignatureSet(limit int) *signatureSet {
	return &signatureSet{
		seen: make(map[quake.Signature]struct{}),
		max:  limit,
	}
}

// isDuplicate reports whether sig was already delivered, recording it if not.
func (s *signatureSet) isDuplicate(sig quake.Signature) bool {
	if _, exists := s.seen[sig]; exists {
		return true
	}

	s.seen[sig] = struct{}{}
	if s.max <= 0 {
		return false
	}

	s.order = append(s.order, sig)
	if len(s.order) > s.max {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	return false
}

func (s *signatureSet) len() int {
	return len(s.seen)
}
