// Package testargs turns a single test function into several test cases.
//
// Each Group lists named argument sets. Run calls the test function once for every combination
// of one case per group, as a subtest named after the chosen cases:
//
//	func TestParse(t *testing.T) {
//		testargs.Run(t, func(t *testing.T, input string, want int) {
//			require.Equal(t, want, parse(input))
//		}, testargs.Group{
//			testargs.C("zero", "0", 0),
//			testargs.C("answer", "42", 42),
//			testargs.C("garbage", "x", 0).WithPanic("invalid number"),
//		})
//	}
//
// This produces the subtests TestParse/zero, TestParse/answer and TestParse/garbage. Additional
// groups multiply the cases; the arguments of later groups bind to later parameters and the
// names are joined with "__" (e.g. TestParse/zero__fast). A Group without cases is ignored.
package testargs

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
)

// Case is a named set of arguments
type Case struct {
	Name string
	Args []any
	// Panics, if not empty, requires the test to panic with a message containing this text
	Panics string
}

// C creates a new case
func C(name string, args ...any) Case {
	return Case{Name: name, Args: args}
}

// WithPanic returns a copy of the case which expects a panic containing msg
func (c Case) WithPanic(msg string) Case {
	c.Panics = msg
	return c
}

// Group is a list of alternative argument sets for the same parameters
type Group []Case

// Expanded is one combination of cases
type Expanded struct {
	Name   string
	Args   []any
	Panics string
}

// Expand builds the cartesian product of the passed groups. The first group varies slowest.
// Empty groups don't contribute anything.
func Expand(groups ...Group) ([]Expanded, error) {
	result := []Expanded{{}}

	for idx, group := range groups {
		if len(group) == 0 {
			continue
		}

		seen := make(map[string]bool, len(group))
		for _, c := range group {
			if c.Name == "" {
				return nil, eris.Errorf("group %d contains a case without a name", idx)
			}

			if seen[c.Name] {
				return nil, eris.Errorf("group %d contains case %s more than once", idx, c.Name)
			}
			seen[c.Name] = true
		}

		next := make([]Expanded, 0, len(result)*len(group))
		for _, prev := range result {
			for _, c := range group {
				item := Expanded{
					Name:   c.Name,
					Args:   make([]any, 0, len(prev.Args)+len(c.Args)),
					Panics: prev.Panics,
				}

				if prev.Name != "" {
					item.Name = prev.Name + "__" + c.Name
				}
				if c.Panics != "" {
					item.Panics = c.Panics
				}

				item.Args = append(item.Args, prev.Args...)
				item.Args = append(item.Args, c.Args...)
				next = append(next, item)
			}
		}

		result = next
	}

	return result, nil
}

var testingT = reflect.TypeOf((*testing.T)(nil))

// Run executes fn once for every combination of the passed groups. fn has to be a function
// which takes a *testing.T followed by one parameter for each argument of a combination.
// Arguments are converted to the parameter types, nil becomes the zero value.
//
// Without groups (or with only empty ones), fn is called directly with t.
func Run(t *testing.T, fn any, groups ...Group) {
	t.Helper()

	nonEmpty := groups[:0:0]
	for _, group := range groups {
		if len(group) > 0 {
			nonEmpty = append(nonEmpty, group)
		}
	}
	groups = nonEmpty

	fnValue := reflect.ValueOf(fn)
	err := checkFunc(fnValue)
	if err != nil {
		t.Fatal(err)
	}

	if len(groups) == 0 {
		if fnValue.Type().NumIn() != 1 {
			t.Fatalf("test function takes %d parameters but no arguments were passed", fnValue.Type().NumIn()-1)
		}

		fnValue.Call([]reflect.Value{reflect.ValueOf(t)})
		return
	}

	cases, err := Expand(groups...)
	if err != nil {
		t.Fatal(err)
	}

	bound := make([][]reflect.Value, len(cases))
	problems := []string{}
	for idx, c := range cases {
		bound[idx], err = bindArgs(fnValue.Type(), c.Args)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %s", c.Name, err))
		}
	}

	if len(problems) > 0 {
		t.Fatalf("invalid test cases:\n%s", strings.Join(problems, "\n"))
	}

	for idx, c := range cases {
		args := bound[idx]
		panics := c.Panics
		t.Run(c.Name, func(t *testing.T) {
			runCase(t, fnValue, args, panics)
		})
	}
}

func checkFunc(fnValue reflect.Value) error {
	if fnValue.Kind() != reflect.Func {
		return eris.Errorf("expected a test function but got %s", fnValue.Kind())
	}

	fnType := fnValue.Type()
	if fnType.NumIn() < 1 || fnType.In(0) != testingT {
		return eris.Errorf("the first parameter of %s must be *testing.T", fnType)
	}

	if fnType.IsVariadic() {
		return eris.Errorf("variadic test functions are not supported (%s)", fnType)
	}

	return nil
}

// bindArgs converts args to the parameters of fnType (skipping the leading *testing.T)
func bindArgs(fnType reflect.Type, args []any) ([]reflect.Value, error) {
	params := fnType.NumIn() - 1
	if len(args) > params {
		return nil, eris.Errorf("arguments outnumber parameters %d to %d", len(args), params)
	}

	if len(args) < params {
		return nil, eris.Errorf("only %d arguments for %d parameters", len(args), params)
	}

	result := make([]reflect.Value, len(args))
	for idx, arg := range args {
		value, err := convertArg(arg, fnType.In(idx+1))
		if err != nil {
			return nil, eris.Wrapf(err, "argument %d", idx+1)
		}
		result[idx] = value
	}

	return result, nil
}

func isInt(kind reflect.Kind) bool {
	return kind >= reflect.Int && kind <= reflect.Int64
}

func isUint(kind reflect.Kind) bool {
	return kind >= reflect.Uint && kind <= reflect.Uintptr
}

func convertArg(arg any, typ reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(typ), nil
	}

	value := reflect.ValueOf(arg)
	if value.Type().AssignableTo(typ) {
		return value, nil
	}

	kind := value.Kind()
	// Go allows int -> string conversions but they're never what a test author means
	if typ.Kind() == reflect.String && (isInt(kind) || isUint(kind)) {
		return reflect.Value{}, eris.Errorf("can't use %T as %s", arg, typ)
	}

	if !value.CanConvert(typ) {
		return reflect.Value{}, eris.Errorf("can't use %T as %s", arg, typ)
	}

	if overflows(value, typ) {
		return reflect.Value{}, eris.Errorf("%v overflows %s", arg, typ)
	}

	return value.Convert(typ), nil
}

func overflows(value reflect.Value, typ reflect.Type) bool {
	target := reflect.New(typ).Elem()
	switch {
	case isInt(value.Kind()) && isInt(typ.Kind()):
		return target.OverflowInt(value.Int())
	case isInt(value.Kind()) && isUint(typ.Kind()):
		return value.Int() < 0 || target.OverflowUint(uint64(value.Int()))
	case isUint(value.Kind()) && isUint(typ.Kind()):
		return target.OverflowUint(value.Uint())
	case isUint(value.Kind()) && isInt(typ.Kind()):
		return value.Uint() > uint64(1<<63-1) || target.OverflowInt(int64(value.Uint()))
	}

	return false
}

func runCase(t *testing.T, fnValue reflect.Value, args []reflect.Value, panics string) {
	t.Helper()

	defer func() {
		r := recover()
		if panics == "" {
			if r != nil {
				panic(r)
			}
			return
		}

		if r == nil {
			if !t.Failed() {
				t.Errorf("expected a panic containing %q", panics)
			}
			return
		}

		msg := panicMessage(r)
		if !strings.Contains(msg, panics) {
			t.Errorf("expected a panic containing %q but got %q", panics, msg)
		}
	}()

	fnValue.Call(append([]reflect.Value{reflect.ValueOf(t)}, args...))
}

func panicMessage(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
