package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

func newTestDispatcher(kinds ...Kind) (*Dispatcher, *[]Command) {
	var got []Command
	d := NewDispatcher()
	for _, k := range kinds {
		_ = d.Register(k, func(_ *Member, cmd Command) error {
			got = append(got, cmd)
			return nil
		})
	}
	return d, &got
}

func TestClassify(t *testing.T) {
	d, _ := newTestDispatcher(KindChat, KindEval, KindGet, KindSave, KindQuit)

	cases := []struct {
		line string
		kind Kind
		arg  string
	}{
		{"EVAL: 5 * (3 + 2)", KindEval, "5 * (3 + 2)"},
		{"  EVAL:1+1  ", KindEval, "1+1"},
		{"EVAL:", KindEval, ""},
		{"eval: 1+1", KindChat, ""},
		{"/get alice", KindGet, "alice"},
		{"/get   alice  ", KindGet, "alice"},
		{"/get", KindGet, ""},
		{"/get\tbob", KindGet, "bob"},
		{"/getaway", KindChat, ""},
		{"/GET alice", KindChat, ""},
		{"/save", KindSave, ""},
		{"/save now", KindSave, "now"},
		{"/saved", KindChat, ""},
		{"/quit", KindQuit, ""},
		{"hello", KindChat, ""},
		{"", KindChat, ""},
		{"say EVAL: 1", KindChat, ""},
	}
	for _, c := range cases {
		cmd := d.Classify(c.line)
		assert.Equal(t, c.kind, cmd.Kind, c.line)
		assert.Equal(t, c.arg, cmd.Arg, c.line)
		assert.Equal(t, c.line, cmd.Line, c.line)
	}
}

func TestClassifyDisabledFeature(t *testing.T) {
	d, _ := newTestDispatcher(KindChat, KindQuit)
	assert.Equal(t, KindChat, d.Classify("EVAL: 1+1").Kind)
	assert.Equal(t, KindChat, d.Classify("/get alice").Kind)
	assert.Equal(t, KindChat, d.Classify("/save").Kind)
	assert.Equal(t, KindQuit, d.Classify("/quit").Kind)
}

func TestDispatch(t *testing.T) {
	d, got := newTestDispatcher(KindChat, KindEval)
	m, _ := newFakeMember(1, "alice", nil)

	require.NoError(t, d.Dispatch(m, "  hi there "))
	require.NoError(t, d.Dispatch(m, "EVAL: 2*3"))
	require.Len(t, *got, 2)
	assert.Equal(t, Command{Kind: KindChat, Line: "  hi there "}, (*got)[0])
	assert.Equal(t, Command{Kind: KindEval, Arg: "2*3", Line: "EVAL: 2*3"}, (*got)[1])

	empty := NewDispatcher()
	assert.ErrorIs(t, empty.Dispatch(m, "hi"), merr.ErrRouteNotFound)
}

func TestRegisterValidation(t *testing.T) {
	d := NewDispatcher()
	noop := func(*Member, Command) error { return nil }
	require.NoError(t, d.Register(KindChat, noop))
	assert.ErrorIs(t, d.Register(KindChat, noop), merr.ErrParameterInvalid)
	assert.ErrorIs(t, d.Register("", noop), merr.ErrParameterMissing)
	assert.ErrorIs(t, d.Register(KindEval, nil), merr.ErrParameterMissing)
}
