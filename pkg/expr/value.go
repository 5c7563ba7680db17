package expr

import "strconv"

// Kind is the type of an expression value.
type Kind int

const (
	// Unknown is produced by identifiers that do not resolve. It propagates
	// through operators and is falsy when a condition is finally decided.
	Unknown Kind = iota
	String
	Number
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a typed expression value.
type Value struct {
	Kind Kind
	str  string
	num  float64
	b    bool
}

// Str returns a string value.
func Str(s string) Value { return Value{Kind: String, str: s} }

// Num returns a number value.
func Num(n float64) Value { return Value{Kind: Number, num: n} }

// Boolean returns a bool value.
func Boolean(b bool) Value { return Value{Kind: Bool, b: b} }

// Known reports whether v resolved to a concrete value.
func (v Value) Known() bool { return v.Kind != Unknown }

func (v Value) String() string {
	switch v.Kind {
	case String:
		return v.str
	case Number:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(v.b)
	default:
		return "<unknown>"
	}
}

// truth returns the boolean reading of v and whether v is known.
func (v Value) truth() (bool, bool) {
	switch v.Kind {
	case Bool:
		return v.b, true
	case String:
		return v.str != "", true
	case Number:
		return v.num != 0, true
	default:
		return false, false
	}
}

func equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case String:
		return a.str == b.str
	case Number:
		return a.num == b.num
	case Bool:
		return a.b == b.b
	default:
		return false
	}
}
