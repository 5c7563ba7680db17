package expr

import (
	"fmt"
	"strings"
)

// State is the execution state visible to the status functions.
type State int

const (
	StateSuccess State = iota
	StateFailure
	StateCancelled
)

// StepInfo is what a condition can observe about an earlier step.
type StepInfo struct {
	Outcome    string
	Conclusion string
}

// Context is the fixed set of names a condition can refer to:
// matrix.<axis>, event.<field>, env.<name>, needs.<job>.result and
// steps.<id>.outcome / steps.<id>.conclusion.
type Context struct {
	Matrix map[string]Value
	Event  map[string]string
	Env    map[string]string
	Needs  map[string]string
	Steps  map[string]StepInfo
	State  State
}

// Result is the decision for a condition plus any non-fatal warnings.
type Result struct {
	Value    bool
	Known    bool
	Warnings []string
}

// Eval decides the condition. Unknown identifiers evaluate to Unknown, which
// makes the whole condition false unless the other operand decides it.
func (e *Expr) Eval(ctx *Context) Result {
	if ctx == nil {
		ctx = &Context{}
	}
	ev := &evaluator{ctx: ctx}
	v := e.root.eval(ev)
	t, known := v.truth()
	return Result{Value: known && t, Known: known, Warnings: ev.warnings}
}

type evaluator struct {
	ctx      *Context
	warnings []string
}

func (ev *evaluator) warnf(format string, args ...any) {
	ev.warnings = append(ev.warnings, fmt.Sprintf(format, args...))
}

type node interface {
	eval(ev *evaluator) Value
}

type literalNode struct{ v Value }

func (n literalNode) eval(*evaluator) Value { return n.v }

type identNode struct{ path []string }

func (n identNode) eval(ev *evaluator) Value {
	if v, ok := ev.lookup(n.path); ok {
		return v
	}
	ev.warnf("unknown identifier %q", strings.Join(n.path, "."))
	return Value{}
}

func (ev *evaluator) lookup(path []string) (Value, bool) {
	c := ev.ctx
	switch {
	case len(path) == 2 && path[0] == "matrix":
		v, ok := c.Matrix[path[1]]
		return v, ok
	case len(path) == 2 && path[0] == "event":
		return stringLookup(c.Event, path[1])
	case len(path) == 2 && path[0] == "env":
		return stringLookup(c.Env, path[1])
	case len(path) == 3 && path[0] == "needs" && path[2] == "result":
		return stringLookup(c.Needs, path[1])
	case len(path) == 3 && path[0] == "steps":
		info, ok := c.Steps[path[1]]
		if !ok {
			return Value{}, false
		}
		switch path[2] {
		case "outcome":
			return Str(info.Outcome), true
		case "conclusion":
			return Str(info.Conclusion), true
		}
	}
	return Value{}, false
}

func stringLookup(m map[string]string, key string) (Value, bool) {
	s, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return Str(s), true
}

type notNode struct{ x node }

func (n notNode) eval(ev *evaluator) Value {
	t, known := n.x.eval(ev).truth()
	if !known {
		return Value{}
	}
	return Boolean(!t)
}

type andNode struct{ left, right node }

func (n andNode) eval(ev *evaluator) Value {
	lt, lk := n.left.eval(ev).truth()
	if lk && !lt {
		return Boolean(false)
	}
	rt, rk := n.right.eval(ev).truth()
	switch {
	case rk && !rt:
		return Boolean(false)
	case lk && rk:
		return Boolean(true)
	default:
		return Value{}
	}
}

type orNode struct{ left, right node }

func (n orNode) eval(ev *evaluator) Value {
	lt, lk := n.left.eval(ev).truth()
	if lk && lt {
		return Boolean(true)
	}
	rt, rk := n.right.eval(ev).truth()
	switch {
	case rk && rt:
		return Boolean(true)
	case lk && rk:
		return Boolean(false)
	default:
		return Value{}
	}
}

type compareNode struct {
	negate      bool
	left, right node
}

func (n compareNode) eval(ev *evaluator) Value {
	l, r := n.left.eval(ev), n.right.eval(ev)
	if !l.Known() || !r.Known() {
		return Value{}
	}
	return Boolean(equal(l, r) != n.negate)
}

type callNode struct {
	name string
	args []node
}

func (n callNode) eval(ev *evaluator) Value {
	switch n.name {
	case "always":
		return Boolean(true)
	case "success":
		return Boolean(ev.ctx.State == StateSuccess)
	case "failure":
		return Boolean(ev.ctx.State == StateFailure)
	case "cancelled":
		return Boolean(ev.ctx.State == StateCancelled)
	}

	a, b := n.args[0].eval(ev), n.args[1].eval(ev)
	if !a.Known() || !b.Known() {
		return Value{}
	}
	switch n.name {
	case "contains":
		return Boolean(strings.Contains(a.String(), b.String()))
	case "startsWith":
		return Boolean(strings.HasPrefix(a.String(), b.String()))
	case "endsWith":
		return Boolean(strings.HasSuffix(a.String(), b.String()))
	}
	return Value{}
}
