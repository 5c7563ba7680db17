package processing

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/systemstart/many-ci/pkg/api"
)

// DefaultWorkflowPattern matches workflow documents below a discovery root.
const DefaultWorkflowPattern = "**/*.{yml,yaml}"

// DiscoverWorkflows walks root looking for files matching pattern up to
// maxDepth. A maxDepth of -1 means unlimited, 0 means only root itself.
// Results are sorted by path depth (parents before children), then by path.
// A root that is a regular file is returned as is.
func DiscoverWorkflows(root, pattern string, maxDepth int) ([]string, error) {
	if pattern == "" {
		pattern = DefaultWorkflowPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid workflow pattern %q", pattern)
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("checking workflow path: %w", err)
	}
	if !st.IsDir() {
		return []string{root}, nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	paths, err := collectWorkflowPaths(absRoot, pattern, maxDepth)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(paths, func(a, b string) int {
		if d := pathDepth(a) - pathDepth(b); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return paths, nil
}

func collectWorkflowPaths(absRoot, pattern string, maxDepth int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk error at %s: %w", path, err)
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", path, relErr)
		}

		if d.IsDir() {
			if maxDepth >= 0 && pathDepth(rel) > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel))
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory tree: %w", err)
	}
	return paths, nil
}

// LoadAll loads and validates every discovered workflow. The first invalid
// document stops loading.
func LoadAll(paths []string) ([]*api.Workflow, error) {
	workflows := make([]*api.Workflow, 0, len(paths))
	for _, p := range paths {
		wf, err := api.LoadWorkflow(p)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

// PrepareAll builds the plan of every workflow before any of them runs, so
// a graph error in one workflow stops the invocation before execution.
func PrepareAll(workflows []*api.Workflow, opts Options) ([]*RunContext, error) {
	runs := make([]*RunContext, 0, len(workflows))
	for _, wf := range workflows {
		rc, err := Prepare(wf, opts)
		if err != nil {
			return nil, fmt.Errorf("preparing workflow %s: %w", wf.FilePath, err)
		}
		runs = append(runs, rc)
	}
	return runs, nil
}

func pathDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(p), "/") + 1
}
