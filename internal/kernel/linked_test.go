package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolveAll(t *testing.T, k Kernel, q Query) []string {
	t.Helper()
	files, err := Resolve(context.Background(), k, q)
	require.NoError(t, err)
	return Names(files)
}

func TestLink_RequisiteOrder(t *testing.T) {
	ck := NewFile("cas_2004.bc", Metadata{Range: span(0, 10)})
	l, err := Link(ck,
		Requires(NewFile("cas_gapfill.bc", Metadata{}), NewFile("cas_v43.tf", Metadata{})),
		RequiresAbove(NewFile("cas_patch.bc", Metadata{})),
	)
	require.NoError(t, err)

	assert.Equal(t, "cas_2004.bc", l.Name())
	assert.Equal(t, CK, l.KType())
	assert.Equal(t, []string{"cas_v43.tf"}, Names(filesOf(l.Corequisites())))
	assert.Equal(t, []string{"cas_gapfill.bc"}, Names(filesOf(l.Prerequisites())))
	assert.Equal(t, []string{"cas_patch.bc"}, Names(filesOf(l.Postrequisites())))

	got := resolveAll(t, l, Over(span(1, 2)))
	assert.Equal(t, []string{"cas_v43.tf", "cas_gapfill.bc", "cas_2004.bc", "cas_patch.bc"}, got)
}

func TestLink_RequisitesFollowThePrimary(t *testing.T) {
	l, err := Link(NewFile("a.bsp", Metadata{Range: span(0, 10)}),
		Requires(NewFile("b.bsp", Metadata{})))
	require.NoError(t, err)
	assert.Empty(t, resolveAll(t, l, Over(span(20, 30))), "no requisites without the primary")
}

func TestLink_RejectsMetakernelRequisite(t *testing.T) {
	_, err := Link(NewFile("a.bsp", Metadata{}), Requires(NewMetakernel("mk", nil)))
	assert.ErrorIs(t, err, ErrMetaRequisite)
}

func TestLink_Exclusions(t *testing.T) {
	l, err := Link(NewFile("vgr1_jup230.bsp", Metadata{}),
		Requires(NewFile("vgr1_jup_sys.bsp", Metadata{})),
		Excludes(`vgr1_jup.*\.bsp`, "old.tf"),
	)
	require.NoError(t, err)
	stack := NewStack("s",
		NewFile("vgr1_jup_old.bsp", Metadata{}),
		NewFile("old.tf", Metadata{}),
		NewFile("vgr2_jup.bsp", Metadata{}),
		l,
	)

	got := resolveAll(t, stack, Over(AllTime()))
	assert.Equal(t, []string{"vgr2_jup.bsp", "vgr1_jup_sys.bsp", "vgr1_jup230.bsp"}, got,
		"the linked kernel's own files are exempt from its exclusions")
}

func TestLink_ExclusionsNeedTheKernel(t *testing.T) {
	l, err := Link(NewFile("a.bsp", Metadata{Range: span(0, 10)}), Excludes("b.bsp"))
	require.NoError(t, err)
	stack := NewStack("s", NewFile("b.bsp", Metadata{}), l)
	assert.Equal(t, []string{"b.bsp"}, resolveAll(t, stack, Over(span(20, 30))))
}

func TestExclusionPattern(t *testing.T) {
	re, err := ExclusionPattern("de440.bsp")
	require.NoError(t, err)
	assert.True(t, re.MatchString("de440.bsp"))
	assert.False(t, re.MatchString("de440xbsp"), "a basename is literal")
	assert.False(t, re.MatchString("de440.bsp.lbl"))

	re, err = ExclusionPattern(`de4\d\d\.bsp`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("de430.bsp"))
	assert.False(t, re.MatchString("xde430.bsp"), "patterns match the whole name")

	_, err = ExclusionPattern("([")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func filesOf(ks []Kernel) []*File {
	out := make([]*File, 0, len(ks))
	for _, k := range ks {
		out = append(out, k.(*File))
	}
	return out
}
