package api

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrDocument is wrapped by every error that rejects a workflow document.
var ErrDocument = errors.New("invalid workflow document")

// ParseError reports a problem at a location in the workflow document.
type ParseError struct {
	Pos     Pos
	Message string
}

func (e *ParseError) Error() string {
	if e.Pos.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return ErrDocument }

func errorAt(n *yaml.Node, format string, args ...any) *ParseError {
	return &ParseError{Pos: posOf(n), Message: fmt.Sprintf(format, args...)}
}

func posOf(n *yaml.Node) Pos {
	if n == nil {
		return Pos{}
	}
	return Pos{Line: n.Line, Column: n.Column}
}

// LoadWorkflow reads a workflow file, parses it, and validates it.
func LoadWorkflow(filename string) (*Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}

	wf, err := ParseWorkflow(data)
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", filename, err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	wf.FilePath = absPath

	return wf, nil
}

// ParseWorkflow parses and validates a workflow document. Unknown keys are
// ignored; values of the wrong YAML type are rejected rather than coerced.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("parsing workflow: %v", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, &ParseError{Message: "workflow document is empty"}
	}

	wf, err := decodeWorkflow(root.Content[0])
	if err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func decodeWorkflow(n *yaml.Node) (*Workflow, error) {
	entries, err := mappingEntries(n, "workflow")
	if err != nil {
		return nil, err
	}

	wf := &Workflow{}
	var sawOn, sawJobs bool
	for _, e := range entries {
		switch e.key.Value {
		case "name":
			wf.Name, err = decodeString(e.value, "name")
		case "on":
			sawOn = true
			wf.On, err = decodeTriggers(e.value)
		case "env":
			wf.Env, err = decodeEnv(e.value, "env")
		case "fail-fast":
			var ff bool
			ff, err = decodeBool(e.value, "fail-fast")
			wf.FailFast = &ff
		case "jobs":
			sawJobs = true
			wf.Jobs, err = decodeJobs(e.value)
		}
		if err != nil {
			return nil, err
		}
	}

	if !sawOn {
		return nil, errorAt(n, "missing required key %q", "on")
	}
	if !sawJobs {
		return nil, errorAt(n, "missing required key %q", "jobs")
	}
	return wf, nil
}

func decodeTriggers(n *yaml.Node) ([]Trigger, error) {
	switch n.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		events, err := decodeStringList(n, "on")
		if err != nil {
			return nil, err
		}
		triggers := make([]Trigger, 0, len(events))
		for _, ev := range events {
			triggers = append(triggers, Trigger{Event: ev})
		}
		return triggers, nil
	case yaml.MappingNode:
		entries, err := mappingEntries(n, "on")
		if err != nil {
			return nil, err
		}
		triggers := make([]Trigger, 0, len(entries))
		for _, e := range entries {
			t, err := decodeTrigger(e.key.Value, e.value)
			if err != nil {
				return nil, err
			}
			triggers = append(triggers, t)
		}
		return triggers, nil
	default:
		return nil, errorAt(n, "on must be an event name, a list of events, or a mapping")
	}
}

func decodeTrigger(event string, n *yaml.Node) (Trigger, error) {
	t := Trigger{Event: event}
	if isNull(n) {
		return t, nil
	}
	entries, err := mappingEntries(n, "on."+event)
	if err != nil {
		return t, err
	}
	for _, e := range entries {
		switch e.key.Value {
		case "branches":
			t.Branches, err = decodeStringList(e.value, "on."+event+".branches")
		case "branches-ignore":
			t.BranchesIgnore, err = decodeStringList(e.value, "on."+event+".branches-ignore")
		}
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

func decodeJobs(n *yaml.Node) ([]Job, error) {
	entries, err := mappingEntries(n, "jobs")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errorAt(n, "jobs mapping is empty")
	}

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		job, err := decodeJob(e.key, e.value)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(key, n *yaml.Node) (Job, error) {
	job := Job{ID: key.Value, Pos: posOf(key)}
	field := func(name string) string { return "jobs." + job.ID + "." + name }

	entries, err := mappingEntries(n, "jobs."+job.ID)
	if err != nil {
		return job, err
	}
	for _, e := range entries {
		switch e.key.Value {
		case "name":
			job.Name, err = decodeString(e.value, field("name"))
		case "runs-on":
			job.RunsOn, err = decodeStringList(e.value, field("runs-on"))
		case "needs":
			job.Needs, err = decodeStringList(e.value, field("needs"))
		case "if":
			job.If, err = decodeCondition(e.value, field("if"))
		case "continue-on-error":
			job.ContinueOnError, err = decodeBool(e.value, field("continue-on-error"))
		case "timeout-minutes":
			job.TimeoutMinutes, err = decodePositiveNumber(e.value, field("timeout-minutes"))
		case "env":
			job.Env, err = decodeEnv(e.value, field("env"))
		case "strategy":
			job.Matrix, err = decodeStrategy(e.value, field("strategy"))
		case "steps":
			job.Steps, err = decodeSteps(e.value, field("steps"))
		}
		if err != nil {
			return job, err
		}
	}
	return job, nil
}

func decodeStrategy(n *yaml.Node, field string) ([]Axis, error) {
	entries, err := mappingEntries(n, field)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.key.Value == "matrix" {
			return decodeMatrix(e.value, field+".matrix")
		}
	}
	return nil, nil
}

func decodeMatrix(n *yaml.Node, field string) ([]Axis, error) {
	entries, err := mappingEntries(n, field)
	if err != nil {
		return nil, err
	}

	axes := make([]Axis, 0, len(entries))
	for _, e := range entries {
		if e.key.Value == "include" || e.key.Value == "exclude" {
			return nil, errorAt(e.key, "%s.%s is not supported", field, e.key.Value)
		}
		axis := Axis{Name: e.key.Value, Pos: posOf(e.key)}
		if e.value.Kind != yaml.SequenceNode {
			return nil, errorAt(e.value, "%s.%s must be a list of values", field, axis.Name)
		}
		for _, item := range e.value.Content {
			v, err := decodeValue(item, field+"."+axis.Name)
			if err != nil {
				return nil, err
			}
			axis.Values = append(axis.Values, v)
		}
		axes = append(axes, axis)
	}
	return axes, nil
}

func decodeSteps(n *yaml.Node, field string) ([]Step, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, errorAt(n, "%s must be a list", field)
	}
	steps := make([]Step, 0, len(n.Content))
	for i, item := range n.Content {
		step, err := decodeStep(item, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func decodeStep(n *yaml.Node, field string) (Step, error) {
	step := Step{Pos: posOf(n)}
	entries, err := mappingEntries(n, field)
	if err != nil {
		return step, err
	}
	for _, e := range entries {
		name := field + "." + e.key.Value
		switch e.key.Value {
		case "id":
			step.ID, err = decodeString(e.value, name)
		case "name":
			step.Name, err = decodeString(e.value, name)
		case "run":
			step.Run, err = decodeString(e.value, name)
		case "uses":
			step.Uses, err = decodeString(e.value, name)
		case "with":
			step.With, err = decodeEnv(e.value, name)
		case "if":
			step.If, err = decodeCondition(e.value, name)
		case "env":
			step.Env, err = decodeEnv(e.value, name)
		case "continue-on-error":
			step.ContinueOnError, err = decodeBool(e.value, name)
		case "shell":
			step.Shell, err = decodeString(e.value, name)
		case "working-directory":
			step.WorkingDirectory, err = decodeString(e.value, name)
		}
		if err != nil {
			return step, err
		}
	}
	return step, nil
}

type mappingEntry struct {
	key   *yaml.Node
	value *yaml.Node
}

// mappingEntries returns the key/value pairs of a mapping in document order
// and rejects duplicate keys, which yaml.v3 accepts when decoding into a Node.
func mappingEntries(n *yaml.Node, field string) ([]mappingEntry, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errorAt(n, "%s must be a mapping", field)
	}
	seen := make(map[string]int, len(n.Content)/2)
	entries := make([]mappingEntry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			return nil, errorAt(key, "%s: keys must be scalars", field)
		}
		if first, dup := seen[key.Value]; dup {
			return nil, errorAt(key, "%s: duplicate key %q (first defined at line %d)", field, key.Value, first)
		}
		seen[key.Value] = key.Line
		entries = append(entries, mappingEntry{key: key, value: value})
	}
	return entries, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func decodeString(n *yaml.Node, field string) (string, error) {
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!str" {
		return "", errorAt(n, "%s must be a string", field)
	}
	return n.Value, nil
}

func decodeBool(n *yaml.Node, field string) (bool, error) {
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
		return false, errorAt(n, "%s must be a boolean", field)
	}
	var b bool
	if err := n.Decode(&b); err != nil {
		return false, errorAt(n, "%s: %v", field, err)
	}
	return b, nil
}

func decodePositiveNumber(n *yaml.Node, field string) (float64, error) {
	if n.Kind != yaml.ScalarNode || (n.ShortTag() != "!!int" && n.ShortTag() != "!!float") {
		return 0, errorAt(n, "%s must be a number", field)
	}
	var f float64
	if err := n.Decode(&f); err != nil {
		return 0, errorAt(n, "%s: %v", field, err)
	}
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errorAt(n, "%s must be positive", field)
	}
	return f, nil
}

// decodeCondition accepts an expression string or a literal boolean.
func decodeCondition(n *yaml.Node, field string) (string, error) {
	if n.Kind == yaml.ScalarNode && n.ShortTag() == "!!bool" {
		b, err := decodeBool(n, field)
		if err != nil {
			return "", err
		}
		if b {
			return "true", nil
		}
		return "false", nil
	}
	return decodeString(n, field)
}

// decodeStringList accepts a single string or a list of strings.
func decodeStringList(n *yaml.Node, field string) ([]string, error) {
	if n.Kind == yaml.ScalarNode {
		s, err := decodeString(n, field)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, errorAt(n, "%s must be a string or a list of strings", field)
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		s, err := decodeString(item, field)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeValue(n *yaml.Node, field string) (Value, error) {
	if n.Kind != yaml.ScalarNode {
		return Value{}, errorAt(n, "%s: values must be scalars", field)
	}
	switch n.ShortTag() {
	case "!!str":
		return Value{Kind: KindString, Raw: n.Value}, nil
	case "!!int", "!!float":
		return Value{Kind: KindNumber, Raw: n.Value}, nil
	case "!!bool":
		b, err := decodeBool(n, field)
		if err != nil {
			return Value{}, err
		}
		if b {
			return Value{Kind: KindBool, Raw: "true"}, nil
		}
		return Value{Kind: KindBool, Raw: "false"}, nil
	default:
		return Value{}, errorAt(n, "%s: unsupported value type %s", field, n.ShortTag())
	}
}

// decodeEnv decodes a mapping of names to scalar values. Scalars keep their
// literal text; null, lists and mappings are rejected.
func decodeEnv(n *yaml.Node, field string) ([]EnvVar, error) {
	entries, err := mappingEntries(n, field)
	if err != nil {
		return nil, err
	}
	vars := make([]EnvVar, 0, len(entries))
	for _, e := range entries {
		v, err := decodeValue(e.value, field+"."+e.key.Value)
		if err != nil {
			return nil, err
		}
		vars = append(vars, EnvVar{Name: e.key.Value, Value: v.Raw})
	}
	return vars, nil
}
