package vm

import "fmt"

// Kind tags a Value's active variant (spec §3 "Primitive value").
type Kind byte

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindArrayRef
	KindVoid
)

// Value is the tagged union that flows across the operand stack, locals
// and heap slots. Void never appears on the operand stack — it is only
// ever the return carrier for void functions (spec §3).
type Value struct {
	Kind Kind
	i    int64
	f    float64
	b    bool
	ref  HeapID
}

func IntValue(v int64) Value     { return Value{Kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{Kind: KindFloat, f: v} }
func BoolValue(v bool) Value     { return Value{Kind: KindBool, b: v} }
func ArrayValue(id HeapID) Value { return Value{Kind: KindArrayRef, ref: id} }
func VoidValue() Value           { return Value{Kind: KindVoid} }

func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool    { return v.b }
func (v Value) ArrayRef() HeapID { return v.ref }

// IsArrayRef reports whether this value owns a heap reference, i.e.
// whether it participates in the retain/release discipline (spec §4.3).
func (v Value) IsArrayRef() bool { return v.Kind == KindArrayRef }

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindArrayRef:
		return fmt.Sprintf("array#%d", v.ref)
	case KindVoid:
		return "void"
	default:
		return "?value?"
	}
}

// formatFloat renders a float the way the display form of this language
// expects: shortest round-trippable decimal, with ".0" appended when that
// form has no fractional part, exponent, or inf/nan spelling.
func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' || c == 'n' || c == 'N' /* inf/nan */ {
			return s
		}
	}
	return s + ".0"
}
