package agg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexdb/vex"
	"github.com/vexdb/vex/pkg/arena"
	"github.com/vexdb/vex/pkg/execerr"
	"github.com/vexdb/vex/runtime/sam/expr/agg"
)

func fnContext() (*agg.FnContext, *arena.Arena) {
	group := arena.New()
	return agg.NewFnContext(agg.SiteAggregate, group, arena.New(), nil, false), group
}

func TestRegistryLookup(t *testing.T) {
	r := agg.Builtins(nil)
	f, err := r.Lookup("sum")
	require.NoError(t, err)
	require.Equal(t, "sum", f.Name)
	_, err = r.Lookup("no_such_agg")
	require.Error(t, err)
}

func TestRegistryACL(t *testing.T) {
	r := agg.Builtins(func(oid uint32) bool { return oid != 2108 })
	_, err := r.Lookup("min")
	require.NoError(t, err)
	_, err = r.Lookup("sum")
	require.ErrorIs(t, err, execerr.ErrPermissionDenied)
}

func TestAvgSerialRoundTrip(t *testing.T) {
	fc, _ := fnContext()
	f := agg.AvgInt64()
	state := agg.Flat(f.InitValue)
	var err error
	var null bool
	for _, v := range []int64{10, 20, 30} {
		state, null, err = f.Trans(fc, state, false, []vex.Value{vex.NewInt64(v)})
		require.NoError(t, err)
		require.False(t, null)
	}
	ser, err := f.Serial(fc, state)
	require.NoError(t, err)
	back, err := f.Deserial(fc, ser)
	require.NoError(t, err)
	out, err := f.Final(fc, back, false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 20.0, out.Float64())
}

func TestAvgCombine(t *testing.T) {
	fc, _ := fnContext()
	f := agg.AvgInt64()
	run := func(vals []int64) agg.Datum {
		state := agg.Flat(f.InitValue)
		for _, v := range vals {
			state, _, _ = f.Trans(fc, state, false, []vex.Value{vex.NewInt64(v)})
		}
		return state
	}
	left := run([]int64{1, 2})
	right := run([]int64{3, 4, 5})
	merged, null, err := f.Combine(fc, left, false, right, false)
	require.NoError(t, err)
	require.False(t, null)
	out, err := f.Final(fc, merged, false, nil)
	require.NoError(t, err)
	require.EqualValues(t, 3.0, out.Float64())
	// Combine over internal state must not be strict.
	require.False(t, f.CombineStrict)
}

func TestCollectExpandedAdoption(t *testing.T) {
	fc, group := fnContext()
	f := agg.Collect()
	state := agg.Flat(vex.NullOf(vex.KindInternal))
	var err error
	var null bool
	state, null, err = f.Trans(fc, state, true, []vex.Value{vex.NewInt64(1)})
	require.NoError(t, err)
	require.False(t, null)
	require.True(t, state.IsExpanded())
	require.Same(t, group, state.Object().Owner())
	first := state.Object()
	state, _, err = f.Trans(fc, state, false, []vex.Value{vex.NewInt64(2)})
	require.NoError(t, err)
	// In-place update of the arena-owned object, no reallocation.
	require.Same(t, first, state.Object())
	out, err := f.Final(fc, state, false, nil)
	require.NoError(t, err)
	got := agg.DecodeList(out)
	require.Len(t, got, 2)
	require.EqualValues(t, 1, got[0].Int64())
	require.EqualValues(t, 2, got[1].Int64())
}

func TestRegisterCallbackFiresOnReset(t *testing.T) {
	fc, group := fnContext()
	fired := 0
	fc.RegisterCallback(func() { fired++ })
	group.Reset()
	require.Equal(t, 1, fired)
	group.Reset()
	require.Equal(t, 1, fired)
}

func TestCheckCallContext(t *testing.T) {
	fc, group := fnContext()
	site, a := fc.CheckCallContext()
	require.Equal(t, agg.SiteAggregate, site)
	require.Same(t, group, a)
	var none *agg.FnContext
	site, a = none.CheckCallContext()
	require.Equal(t, agg.SiteNone, site)
	require.Nil(t, a)
}

func TestEncodeDecodeList(t *testing.T) {
	vals := []vex.Value{vex.NewInt64(1), vex.Null, vex.NewString("x")}
	got := agg.DecodeList(agg.EncodeList(vals))
	require.Len(t, got, 3)
	require.True(t, got[1].IsNull())
	require.Equal(t, "x", got[2].String())
}
