package steps

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/systemstart/many-ci/pkg/api"
)

// LatestRef selects the highest registered version of an action.
const LatestRef = "latest"

type registeredAction struct {
	def     api.ActionDef
	version *semver.Version
}

// ActionRegistry resolves uses references against a catalog of actions.
type ActionRegistry struct {
	byName map[string][]registeredAction
}

// NewActionRegistry indexes a validated actions catalog.
func NewActionRegistry(cfg *api.ActionsConfig) (*ActionRegistry, error) {
	r := &ActionRegistry{byName: make(map[string][]registeredAction)}
	if cfg == nil {
		return r, nil
	}
	for _, def := range cfg.Actions {
		v, err := semver.StrictNewVersion(def.Version)
		if err != nil {
			return nil, fmt.Errorf("action %q: invalid version %q: %w", def.Name, def.Version, err)
		}
		r.byName[def.Name] = append(r.byName[def.Name], registeredAction{def: def, version: v})
	}
	for name := range r.byName {
		// Highest version first so the first match wins.
		slices.SortFunc(r.byName[name], func(a, b registeredAction) int {
			return b.version.Compare(a.version)
		})
	}
	return r, nil
}

// ParseRef splits "name@ref". A missing ref means latest.
func ParseRef(uses string) (name, ref string, err error) {
	name, ref, found := strings.Cut(uses, "@")
	if name == "" || (found && ref == "") {
		return "", "", fmt.Errorf("malformed action reference %q", uses)
	}
	if !found {
		ref = LatestRef
	}
	return name, ref, nil
}

// Resolve finds the action a uses reference points to. A ref is matched as
// an alias first, then as an exact x.y.z version, then as a tilde range so
// "v4" selects the highest 4.x.y and "4.1" the highest 4.1.y.
func (r *ActionRegistry) Resolve(uses string) (api.ActionDef, error) {
	name, ref, err := ParseRef(uses)
	if err != nil {
		return api.ActionDef{}, fmt.Errorf("%w: %v", ErrExecutorUnavailable, err)
	}
	candidates := r.byName[name]
	if len(candidates) == 0 {
		return api.ActionDef{}, fmt.Errorf("%w: unknown action %q", ErrExecutorUnavailable, name)
	}

	if ref == LatestRef {
		return candidates[0].def, nil
	}
	for _, c := range candidates {
		if slices.Contains(c.def.Aliases, ref) {
			return c.def, nil
		}
	}
	if v, err := semver.StrictNewVersion(strings.TrimPrefix(ref, "v")); err == nil {
		for _, c := range candidates {
			if c.version.Equal(v) {
				return c.def, nil
			}
		}
		return api.ActionDef{}, fmt.Errorf("%w: action %q has no version %s", ErrExecutorUnavailable, name, v)
	}

	constraint, err := semver.NewConstraint("~" + strings.TrimPrefix(ref, "v"))
	if err != nil {
		return api.ActionDef{}, fmt.Errorf("%w: action %q: invalid ref %q: %v", ErrExecutorUnavailable, name, ref, err)
	}
	for _, c := range candidates {
		if constraint.Check(c.version) {
			return c.def, nil
		}
	}
	return api.ActionDef{}, fmt.Errorf("%w: action %q has no version matching %q", ErrExecutorUnavailable, name, ref)
}

// Names lists the registered action names.
func (r *ActionRegistry) Names() []string {
	return slices.Sorted(maps.Keys(r.byName))
}

// ActionExecutor runs uses steps as the shell script of the resolved action.
// Inputs are passed as INPUT_<NAME> variables, with defaults from the catalog
// overridden by the step's with block.
type ActionExecutor struct {
	Registry *ActionRegistry
	Shell    Executor
}

func (e *ActionExecutor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	def, err := e.Registry.Resolve(inv.Uses)
	if err != nil {
		return Outcome{}, err
	}

	env := maps.Clone(inv.Env)
	if env == nil {
		env = make(map[string]string)
	}
	for k, v := range def.Inputs {
		env[inputVar(k)] = v
	}
	for k, v := range inv.With {
		env[inputVar(k)] = v
	}

	shellInv := inv
	shellInv.Run = def.Run
	shellInv.Uses = ""
	shellInv.With = nil
	shellInv.Env = env
	shellInv.Shell = cmp.Or(def.Shell, inv.Shell)
	return e.Shell.Execute(ctx, shellInv)
}

func inputVar(name string) string {
	return "INPUT_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
