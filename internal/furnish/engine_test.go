package furnish

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/furnish/internal/fetch"
	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
	"github.com/roach88/furnish/internal/testutil"
	"github.com/roach88/furnish/internal/toolkit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return epoch.AddDate(0, 0, n) }

func span(a, b int) kernel.TimeRange { return kernel.Between(day(a), day(b)) }

type memJournal struct {
	mu sync.Mutex
	ts []*Transition
}

func (j *memJournal) RecordTransition(_ context.Context, t *Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ts = append(j.ts, t)
	return nil
}

func (j *memJournal) all() []*Transition {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Transition(nil), j.ts...)
}

type fixture struct {
	reg     *recipe.Registry
	tk      *toolkit.Recorder
	remote  *testutil.FakeRemote
	journal *memJournal
	eng     *Engine
	dl      string
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	fx := &fixture{
		reg:     recipe.NewRegistry(),
		tk:      toolkit.NewRecorder(),
		remote:  testutil.NewFakeRemote(),
		journal: &memJournal{},
		dl:      t.TempDir(),
	}
	cache := fetch.New(fetch.Roots{Downloads: fx.dl}, fx.remote,
		fetch.WithRetries(0), fetch.WithBackoff(time.Millisecond, time.Millisecond))
	opts = append([]EngineOption{WithJournal(fx.journal)}, opts...)
	fx.eng = New(fx.reg, cache, fx.tk, opts...)
	return fx
}

// file creates a remote kernel the cache can fetch.
func (fx *fixture) file(name string, r kernel.TimeRange, ids ...int) *kernel.File {
	url := "https://naif.example/" + name
	fx.remote.Put(url, []byte("data for "+name))
	return kernel.NewFile(name, kernel.Metadata{Range: r, URL: url, IDs: ids})
}

func (fx *fixture) recipe(t *testing.T, name string, ks ...kernel.Kernel) {
	t.Helper()
	_, err := fx.reg.Create(name, "", ks...)
	require.NoError(t, err)
}

func (fx *fixture) path(name string) string { return filepath.Join(fx.dl, name) }

func (fx *fixture) loaded() []string {
	var out []string
	for _, p := range fx.tk.Loaded() {
		out = append(out, filepath.Base(p))
	}
	return out
}

func (fx *fixture) calls() []string {
	var out []string
	for _, c := range fx.tk.Calls() {
		out = append(out, c.Op+" "+filepath.Base(c.Path))
	}
	return out
}

func (fx *fixture) standardRecipes(t *testing.T) {
	t.Helper()
	fx.recipe(t, "a",
		fx.file("de440.bsp", span(0, 100)),
		fx.file("naif0012.tls", kernel.AllTime()),
		fx.file("cas_v43.tf", kernel.AllTime()),
	)
	fx.recipe(t, "b",
		fx.file("naif0012.tls", kernel.AllTime()),
		fx.file("sat441.bsp", span(0, 100)),
	)
}

func TestFurnish_LoadsInTargetOrder(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)

	tr, err := fx.eng.Furnish(context.Background(), "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf", "de440.bsp"}, fx.loaded())
	assert.Equal(t, OutcomeApplied, tr.Outcome)
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf", "de440.bsp"}, tr.Files)
	loads, unloads := tr.Counts()
	assert.Equal(t, 3, loads)
	assert.Equal(t, 0, unloads)

	st := fx.eng.State("a")
	assert.Equal(t, Loaded, st.Phase)
	assert.True(t, st.Active)
	assert.True(t, st.Query.Range.Equal(span(1, 2)))
	assert.Equal(t, "a", fx.eng.Active())
	assert.Equal(t, fx.path("de440.bsp"), st.Files[2].LocalPath())
}

func TestFurnish_Idempotent(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	tr, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, tr.Outcome)
	assert.Empty(t, fx.tk.Calls())
	assert.Equal(t, 3, fx.remote.TotalOpens(), "second furnish must not fetch")
}

func TestFurnish_MinimalDiffWithinRecipe(t *testing.T) {
	fx := newFixture(t)
	planets := kernel.NewSet("planets", kernel.SPK, kernel.WithCandidates(
		fx.file("early.bsp", span(0, 10)),
		fx.file("late.bsp", span(10, 20)),
	))
	fx.recipe(t, "a", fx.file("naif0012.tls", kernel.AllTime()), planets)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(0, 5)))
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls", "early.bsp"}, fx.loaded())
	fx.tk.Reset()

	_, err = fx.eng.Furnish(ctx, "a", kernel.Over(span(12, 15)))
	require.NoError(t, err)
	assert.Equal(t, []string{"unload early.bsp", "load late.bsp"}, fx.calls())
	assert.Equal(t, []string{"naif0012.tls", "late.bsp"}, fx.loaded())
}

func TestFurnish_SwitchingRecipesUnloadsAutomatically(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	tr, err := fx.eng.Furnish(ctx, "b", kernel.Over(span(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, []string{"unload de440.bsp", "unload cas_v43.tf", "load sat441.bsp"}, fx.calls())
	assert.Equal(t, []string{"naif0012.tls", "sat441.bsp"}, fx.loaded())
	assert.Equal(t, "a", tr.Previous)

	assert.False(t, fx.eng.State("a").Active)
	assert.Equal(t, Loaded, fx.eng.State("a").Phase)
	assert.True(t, fx.eng.State("b").Active)
	assert.Equal(t, "b", fx.eng.Active())

	// Switching back reloads only what b removed.
	fx.tk.Reset()
	_, err = fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"unload sat441.bsp", "load cas_v43.tf", "load de440.bsp"}, fx.calls())
}

func TestFurnish_SelectedRecipe(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	_, err := fx.reg.Select("b")
	require.NoError(t, err)

	_, err = fx.eng.Furnish(context.Background(), "", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, "b", fx.eng.Active())
}

func TestFurnish_FetchFailureLeavesStateUntouched(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	rec, err := fx.reg.Get("a")
	require.NoError(t, err)
	rec.Append(kernel.NewFile("missing.bc", kernel.Metadata{URL: "https://naif.example/missing.bc"}))

	tr, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.True(t, fetch.IsFetchError(err))
	assert.Empty(t, fx.tk.Calls())

	st := fx.eng.State("a")
	assert.Equal(t, Loaded, st.Phase)
	assert.True(t, st.Active)
	assert.Len(t, st.Files, 3)

	last := fx.journal.all()
	require.NotEmpty(t, last)
	assert.Equal(t, OutcomeFailed, last[len(last)-1].Outcome)
	assert.Empty(t, last[len(last)-1].Ops)
}

func TestFurnish_ResolveFailure(t *testing.T) {
	fx := newFixture(t)
	planets := kernel.NewSet("planets", kernel.SPK, kernel.WithCandidates(fx.file("early.bsp", span(0, 10))))
	fx.recipe(t, "a", planets)

	_, err := fx.eng.Furnish(context.Background(), "a", kernel.Over(span(5, 20)))
	require.Error(t, err)
	assert.True(t, kernel.IsCoverageGap(err))
	assert.Empty(t, fx.tk.Calls())
	assert.Equal(t, 0, fx.remote.TotalOpens())
	assert.Equal(t, Empty, fx.eng.State("a").Phase)
}

func TestFurnish_UnknownRecipe(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.eng.Furnish(context.Background(), "nope", kernel.Over(kernel.AllTime()))
	assert.ErrorIs(t, err, recipe.ErrNotFound)
}

func TestFurnish_LoadFailureMarksStale(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()
	boom := errors.New("bad kernel")
	fx.tk.FailOn("load", fx.path("de440.bsp"), boom)

	tr, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.Error(t, err)
	assert.True(t, IsToolkitError(err))
	assert.ErrorIs(t, err, boom)

	var te *ToolkitError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpLoad, te.Op)
	assert.Equal(t, "de440.bsp", te.Name)

	require.NotNil(t, tr)
	assert.Equal(t, OutcomeFailed, tr.Outcome)
	require.Len(t, tr.Ops, 3)
	assert.NotEmpty(t, tr.Ops[2].Err)

	assert.Equal(t, Stale, fx.eng.State("a").Phase)
	assert.Equal(t, "", fx.eng.Active())
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf"}, kernel.Names(fx.eng.Loaded()))
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf"}, fx.loaded())

	// The next call completes the transition from what actually loaded.
	fx.tk.Reset()
	_, err = fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"load de440.bsp"}, fx.calls())
	assert.Equal(t, Loaded, fx.eng.State("a").Phase)
}

func TestFurnish_UnloadFailureMarksStale(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.FailOn("unload", fx.path("cas_v43.tf"), errors.New("locked"))
	fx.tk.Reset()

	_, err = fx.eng.Furnish(ctx, "b", kernel.Over(span(1, 2)))
	require.Error(t, err)
	assert.Equal(t, []string{"unload de440.bsp", "unload cas_v43.tf"}, fx.calls())
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf"}, fx.loaded())
	assert.Equal(t, Stale, fx.eng.State("b").Phase)
	assert.False(t, fx.eng.State("a").Active)

	fx.tk.Reset()
	_, err = fx.eng.Furnish(ctx, "b", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"unload cas_v43.tf", "load sat441.bsp"}, fx.calls())
}

func TestFurnish_ReloadsOutOfOrderFiles(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	files := []*kernel.File{
		fx.file("a.bsp", span(0, 10)),
		fx.file("b.bsp", span(0, 10)),
		fx.file("c.bsp", span(0, 10)),
	}
	fx.recipe(t, "r", files[0], files[1], files[2])
	rec, err := fx.reg.Get("r")
	require.NoError(t, err)
	_, err = fx.eng.Furnish(ctx, "r", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	rec.Append(files[1]) // order becomes a, c, b
	_, err = fx.eng.Furnish(ctx, "r", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"unload b.bsp", "load b.bsp"}, fx.calls())
	assert.Equal(t, []string{"a.bsp", "c.bsp", "b.bsp"}, fx.loaded())
}

func TestFurnish_SwitchKeepsOverrideOrder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	y := fx.file("y.bsp", span(0, 10))
	z := fx.file("z.bsp", span(0, 10))
	fx.recipe(t, "a", kernel.NewStack("a", y))
	fx.recipe(t, "b", kernel.NewStack("b", z, y))

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	tr, err := fx.eng.Furnish(ctx, "b", kernel.Over(span(1, 2)))
	require.NoError(t, err)

	// y must end up above z, so it is reloaded rather than kept.
	assert.Equal(t, []string{"unload y.bsp", "load z.bsp", "load y.bsp"}, fx.calls())
	assert.Equal(t, []string{"z.bsp", "y.bsp"}, fx.loaded())
	assert.Equal(t, tr.Files, fx.loaded())
	assert.Equal(t, OutcomeApplied, tr.Outcome)
}

func TestFurnish_QueryIDs(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.recipe(t, "r",
		fx.file("naif0012.tls", kernel.AllTime()),
		fx.file("jup365.bsp", span(0, 100), 599, 501),
		fx.file("sat441.bsp", span(0, 100), 699, 606),
	)

	tr, err := fx.eng.Furnish(ctx, "r", kernel.Over(span(1, 2), 699))
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls", "sat441.bsp"}, fx.loaded())
	assert.Equal(t, []int{699}, tr.IDs)
	assert.Equal(t, []int{699}, fx.eng.State("r").Query.IDs)

	used, err := fx.eng.Used(ctx, "r", kernel.Over(span(1, 2), 501, 606))
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls", "jup365.bsp", "sat441.bsp"}, kernel.Names(used))

	fx.tk.Reset()
	tr, err = fx.eng.Furnish(ctx, "r", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Nil(t, tr.IDs)
	assert.Equal(t, []string{"unload sat441.bsp", "load jup365.bsp", "load sat441.bsp"}, fx.calls())
	assert.Equal(t, []string{"naif0012.tls", "jup365.bsp", "sat441.bsp"}, fx.loaded())
}

func TestFurnish_DuplicateNamesLoadOnce(t *testing.T) {
	fx := newFixture(t)
	lsk := fx.file("naif0012.tls", kernel.AllTime())
	fx.recipe(t, "a", kernel.NewStack("s1", lsk, fx.file("naif0012.tls", kernel.AllTime())))

	_, err := fx.eng.Furnish(context.Background(), "a", kernel.Over(kernel.AllTime()))
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls"}, fx.loaded())
}

func TestUsed_DoesNotTouchToolkitOrRemote(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)

	files, err := fx.eng.Used(context.Background(), "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	assert.Equal(t, []string{"naif0012.tls", "cas_v43.tf", "de440.bsp"}, kernel.Names(files))
	assert.Empty(t, fx.tk.Calls())
	assert.Equal(t, 0, fx.remote.TotalOpens())
	assert.Equal(t, Empty, fx.eng.State("a").Phase)
	assert.Empty(t, fx.journal.all())
}

func TestUnload(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	fx.tk.Reset()

	// b is not loaded: nothing to do.
	tr, err := fx.eng.Unload(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, tr.Outcome)
	assert.Empty(t, fx.tk.Calls())

	tr, err = fx.eng.Unload(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnloaded, tr.Outcome)
	assert.Equal(t, []string{"unload de440.bsp", "unload cas_v43.tf", "unload naif0012.tls"}, fx.calls())
	assert.Empty(t, fx.tk.Loaded())
	assert.Equal(t, Empty, fx.eng.State("a").Phase)
	assert.Equal(t, "", fx.eng.Active())

	_, err = fx.eng.Unload(ctx, "nope")
	assert.ErrorIs(t, err, recipe.ErrNotFound)
}

func TestFurnish_ConcurrentRecipes(t *testing.T) {
	fx := newFixture(t)
	fx.standardRecipes(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		name := "a"
		if i%2 == 1 {
			name = "b"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.eng.Furnish(ctx, name, kernel.Over(span(1, 2)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active := fx.eng.Active()
	require.Contains(t, []string{"a", "b"}, active)
	assert.Equal(t, kernel.Names(fx.eng.State(active).Files), fx.loaded())
	assert.Equal(t, 0, fx.eng.names.len())

	// Each file was fetched once regardless of interleaving.
	assert.Equal(t, 4, fx.remote.TotalOpens())
}

func TestFurnish_JournalSequence(t *testing.T) {
	fx := newFixture(t,
		WithClock(NewClockAt(41)),
		WithIDGenerator(NewFixedGenerator("t1", "t2")),
		WithNow(func() time.Time { return epoch }),
	)
	fx.standardRecipes(t)
	ctx := context.Background()

	_, err := fx.eng.Furnish(ctx, "a", kernel.Over(span(1, 2)))
	require.NoError(t, err)
	_, err = fx.eng.Furnish(ctx, "b", kernel.Over(span(1, 2)))
	require.NoError(t, err)

	ts := fx.journal.all()
	require.Len(t, ts, 2)
	assert.Equal(t, "t1", ts[0].ID)
	assert.Equal(t, int64(42), ts[0].Seq)
	assert.Equal(t, int64(43), ts[1].Seq)
	assert.Equal(t, epoch, ts[1].At)
	assert.Equal(t, kernel.Fingerprint(fx.eng.State("b").Files), ts[1].Fingerprint)
	assert.NotEqual(t, ts[0].Fingerprint, ts[1].Fingerprint)
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex
	unlockA := km.Lock("a")
	unlockB := km.Lock("b") // different key does not block
	assert.Equal(t, 2, km.len())

	acquired := make(chan struct{})
	go func() {
		u := km.Lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key must wait")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	unlockB()
	assert.Equal(t, 0, km.len())
}

func TestClockAndGenerators(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(1), c.Current())

	assert.Len(t, UUIDv7Generator{}.Generate(), 36)

	g := NewFixedGenerator("x")
	assert.Equal(t, "x", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
