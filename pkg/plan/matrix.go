package plan

import (
	"fmt"

	"github.com/systemstart/many-ci/pkg/api"
)

// Expand returns the cross product of the axes in declaration order, the
// last axis varying fastest. A job without a matrix yields one empty
// combination. The product must not exceed limit.
func Expand(axes []api.Axis, limit int) ([][]Assignment, error) {
	total := 1
	for _, axis := range axes {
		if len(axis.Values) == 0 {
			return nil, fmt.Errorf("matrix axis %q has no values", axis.Name)
		}
		total *= len(axis.Values)
		if total > limit {
			return nil, fmt.Errorf("matrix expands to more than %d instances", limit)
		}
	}

	combos := make([][]Assignment, 0, total)
	current := make([]Assignment, len(axes))
	var walk func(depth int)
	walk = func(depth int) {
		if depth == len(axes) {
			combos = append(combos, append([]Assignment(nil), current...))
			return
		}
		for _, v := range axes[depth].Values {
			current[depth] = Assignment{Axis: axes[depth].Name, Value: v}
			walk(depth + 1)
		}
	}
	walk(0)
	return combos, nil
}
