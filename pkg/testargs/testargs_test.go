package testargs

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEmpty(t *testing.T) {
	cases, err := Expand()
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "", cases[0].Name)
	assert.Empty(t, cases[0].Args)
}

func TestExpandProduct(t *testing.T) {
	cases, err := Expand(
		Group{C("a", 1), C("b", 2)},
		Group{C("x", "x"), C("y", "y").WithPanic("boom"), C("z", "z")},
	)
	require.NoError(t, err)

	names := make([]string, len(cases))
	for idx, c := range cases {
		names[idx] = c.Name
	}
	assert.Equal(t, []string{"a__x", "a__y", "a__z", "b__x", "b__y", "b__z"}, names)

	assert.Equal(t, []any{1, "x"}, cases[0].Args)
	assert.Equal(t, []any{2, "z"}, cases[5].Args)
	assert.Equal(t, "boom", cases[1].Panics)
	assert.Equal(t, "boom", cases[4].Panics)
	assert.Equal(t, "", cases[3].Panics)
}

func TestExpandLastPanicWins(t *testing.T) {
	cases, err := Expand(
		Group{C("a").WithPanic("first")},
		Group{C("b").WithPanic("second"), C("c")},
	)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "second", cases[0].Panics)
	assert.Equal(t, "first", cases[1].Panics)
}

func TestExpandInvalidGroups(t *testing.T) {
	_, err := Expand(Group{C("a"), C("a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than once")

	_, err = Expand(Group{C("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a name")

}

func TestExpandSkipsEmptyGroups(t *testing.T) {
	cases, err := Expand(Group{C("a", 1)}, Group{}, Group{C("b", 2)})
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "a__b", cases[0].Name)
	assert.Equal(t, []any{1, 2}, cases[0].Args)
}

func TestRunEmptyGroup(t *testing.T) {
	calls := 0
	Run(t, func(t *testing.T) {
		calls++
	}, Group{})
	assert.Equal(t, 1, calls)
}

func TestBindArgsArity(t *testing.T) {
	fnType := reflect.TypeOf(func(*testing.T, int, string) {})

	_, err := bindArgs(fnType, []any{1, "a", 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arguments outnumber parameters 3 to 2")

	_, err = bindArgs(fnType, []any{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only 1 arguments for 2 parameters")

	values, err := bindArgs(fnType, []any{1, "a"})
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, 1, values[0].Interface())
	assert.Equal(t, "a", values[1].Interface())
}

type label string

func TestConvertArg(t *testing.T) {
	Run(t, func(t *testing.T, arg any, target reflect.Type, want any, fails bool) {
		value, err := convertArg(arg, target)
		if fails {
			require.Error(t, err)
			return
		}

		require.NoError(t, err)
		assert.Equal(t, want, value.Interface())
	}, Group{
		C("same", 5, reflect.TypeOf(0), 5, false),
		C("widen", 5, reflect.TypeOf(int64(0)), int64(5), false),
		C("named", "x", reflect.TypeOf(label("")), label("x"), false),
		C("nil_slice", nil, reflect.TypeOf([]string(nil)), []string(nil), false),
		C("nil_int", nil, reflect.TypeOf(0), 0, false),
		C("interface", 3, reflect.TypeOf((*any)(nil)).Elem(), 3, false),
		C("int_to_string", 65, reflect.TypeOf(""), nil, true),
		C("overflow", 300, reflect.TypeOf(uint8(0)), nil, true),
		C("negative_unsigned", -1, reflect.TypeOf(uint(0)), nil, true),
		C("unrelated", "x", reflect.TypeOf(0), nil, true),
	})
}

func TestCheckFunc(t *testing.T) {
	assert.Error(t, checkFunc(reflect.ValueOf(42)))
	assert.Error(t, checkFunc(reflect.ValueOf(func(int) {})))
	assert.Error(t, checkFunc(reflect.ValueOf(func(*testing.T, ...int) {})))
	assert.NoError(t, checkFunc(reflect.ValueOf(func(*testing.T, int) {})))
}

func TestRunWithoutGroups(t *testing.T) {
	called := false
	Run(t, func(t *testing.T) {
		called = true
	})
	assert.True(t, called)
}

func TestRunCallsEveryCombination(t *testing.T) {
	seen := map[string]int{}
	Run(t, func(t *testing.T, a int, b string) {
		seen[t.Name()]++
		assert.Positive(t, a)
		assert.NotEmpty(t, b)
	}, Group{
		C("one", 1),
		C("two", 2),
	}, Group{
		C("x", "x"),
		C("y", "y"),
	})

	assert.Equal(t, map[string]int{
		"TestRunCallsEveryCombination/one__x": 1,
		"TestRunCallsEveryCombination/one__y": 1,
		"TestRunCallsEveryCombination/two__x": 1,
		"TestRunCallsEveryCombination/two__y": 1,
	}, seen)
}

func TestRunExpectedPanics(t *testing.T) {
	Run(t, func(t *testing.T, msg any) {
		if msg != nil {
			panic(msg)
		}
	}, Group{
		C("none", nil),
		C("string", "index out of range").WithPanic("out of range"),
		C("error", errors.New("disk is full")).WithPanic("full"),
	})
}

func TestPanicMessage(t *testing.T) {
	assert.Equal(t, "plain", panicMessage("plain"))
	assert.Equal(t, "failure", panicMessage(errors.New("failure")))
	assert.Equal(t, "42", panicMessage(42))
}
