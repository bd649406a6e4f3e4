package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/furnish/internal/furnish"
	"github.com/roach88/furnish/internal/kernel"
)

func createTestTransition(id, recipe string, seq int64) *furnish.Transition {
	return &furnish.Transition{
		ID:          id,
		Seq:         seq,
		Recipe:      recipe,
		Range:       kernel.Between(date(2020, 1, 1), date(2020, 2, 1)),
		Outcome:     furnish.OutcomeApplied,
		Files:       []string{"naif0012.tls", "de440.bsp"},
		Fingerprint: "fp-" + id,
		Ops: []furnish.Operation{
			{Op: furnish.OpLoad, Name: "naif0012.tls", Path: "/k/naif0012.tls"},
			{Op: furnish.OpLoad, Name: "de440.bsp", Path: "/k/de440.bsp"},
		},
		At: time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC),
	}
}

func TestRecordTransition_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestTransition("t1", "cassini", 1)
	want.Previous = "default"
	want.IDs = []int{699, 606}
	want.Ops[1].Err = "boom"
	want.Outcome = furnish.OutcomeFailed
	want.Error = "toolkit load de440.bsp (/k/de440.bsp): boom"
	require.NoError(t, s.RecordTransition(ctx, want))

	got, err := s.ListTransitions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	if diff := cmp.Diff(*want, got[0]); diff != "" {
		t.Errorf("transition mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordTransition_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tr := createTestTransition("t1", "cassini", 1)
	require.NoError(t, s.RecordTransition(ctx, tr))
	require.NoError(t, s.RecordTransition(ctx, tr))

	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM transition_ops").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestRecordTransition_EmptyFilesAndOps(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tr := &furnish.Transition{ID: "u1", Seq: 1, Recipe: "x", Outcome: furnish.OutcomeUnloaded}
	require.NoError(t, s.RecordTransition(ctx, tr))

	got, err := s.ListTransitions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{}, got[0].Files)
	assert.Nil(t, got[0].IDs)
	assert.Nil(t, got[0].Ops)
	assert.True(t, got[0].At.IsZero())
	assert.True(t, got[0].Range.IsAll())
}

func TestListTransitions_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Written out of order; read back by seq.
	for _, seq := range []int64{3, 1, 5, 2, 4} {
		recipe := "a"
		if seq%2 == 0 {
			recipe = "b"
		}
		require.NoError(t, s.RecordTransition(ctx, createTestTransition(fmt.Sprintf("t%d", seq), recipe, seq)))
	}

	all, err := s.ListTransitions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs(all))

	last, err := s.ListTransitions(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, seqs(last))

	b, err := s.RecipeTransitions(ctx, "b", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, seqs(b))
}

func TestListTransitions_Empty(t *testing.T) {
	s := createTestStore(t)
	got, err := s.ListTransitions(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLastSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	require.NoError(t, s.RecordTransition(ctx, createTestTransition("t7", "a", 7)))
	require.NoError(t, s.RecordTransition(ctx, createTestTransition("t3", "a", 3)))

	seq, err = s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	clock := furnish.NewClockAt(seq)
	assert.Equal(t, int64(8), clock.Next())
}

func seqs(ts []furnish.Transition) []int64 {
	out := make([]int64, len(ts))
	for i, t := range ts {
		out[i] = t.Seq
	}
	return out
}
