package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates "<prefix>-0001", "<prefix>-0002", ... so golden
// traces carry stable transition ids.
//
// Unlike furnish.FixedGenerator, which hands out a predetermined list and
// panics when it runs dry, SequentialIDs never runs out.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialIDs creates a generator. If prefix is empty, ids start with
// "tr".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "tr"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
//
// Implements furnish.IDGenerator.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
