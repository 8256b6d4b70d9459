package eval

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

func TestArithmetic(t *testing.T) {
	ev := NewArithmetic(0)
	cases := []struct {
		in   string
		want string
	}{
		{"5 * (3 + 2)", "25"},
		{"1 + 2", "3"},
		{"  7 - 10 ", "-3"},
		{"10 / 4", "2.5"},
		{"10 / 5", "2"},
		{"7 % 3", "1"},
		{"-(2 + 3) * 2", "-10"},
		{"1.5 * 2", "3"},
		{"9223372036854775806 + 1", "9223372036854775807"},
		{"-9223372036854775807 - 1", "-9223372036854775808"},
		{"3037000499 * 3037000499", "9223372030926249001"},
		{"9223372036854775807 * 1.0", "9223372036854775808"},
	}
	for _, c := range cases {
		got, err := ev.Evaluate(context.Background(), c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestArithmeticRejects(t *testing.T) {
	ev := NewArithmetic(16)
	for _, in := range []string{
		"",
		"   ",
		"1 +",
		"(1 + 2",
		"abs(-1)",
		"foo",
		"1 .. 3",
		"\"a\" + \"b\"",
		"1 / 0",
		"1 % 0",
		"１+1",
		strings.Repeat("1+", 10) + "1",
	} {
		_, err := ev.Evaluate(context.Background(), in)
		assert.ErrorIs(t, err, merr.ErrEvaluation, in)
	}
}

func TestArithmeticIntegerOverflow(t *testing.T) {
	ev := NewArithmetic(0)
	for _, in := range []string{
		"9223372036854775807 + 1",
		"-9223372036854775807 - 2",
		"9223372036854775807 * 2",
		"3037000500 * 3037000500",
		"(4611686018427387904 + 4611686018427387904) - 1",
		"99999 * 99999 * 99999 * 99999",
	} {
		_, err := ev.Evaluate(context.Background(), in)
		assert.ErrorIs(t, err, merr.ErrEvaluation, in)
	}
}

func TestCheckedIntOps(t *testing.T) {
	_, ok := mulInt(-1, math.MinInt)
	assert.False(t, ok)
	_, ok = mulInt(math.MinInt, -1)
	assert.False(t, ok)
	r, ok := mulInt(-1, math.MaxInt)
	assert.True(t, ok)
	assert.Equal(t, -math.MaxInt, r)
	_, ok = subInt(math.MinInt, 1)
	assert.False(t, ok)
	r, ok = addInt(math.MinInt, math.MaxInt)
	assert.True(t, ok)
	assert.Equal(t, -1, r)
}

func TestArithmeticCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewArithmetic(0).Evaluate(ctx, "1+1")
	assert.ErrorIs(t, err, context.Canceled)
}
