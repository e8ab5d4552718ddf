package internal

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePrefix = "github.com/Iron-Ham/ralph/internal/"

// leaves may not import any other internal package.
var leaves = []string{"errors", "logging", "research", "util"}

// forbidden lists internal packages a package must never import. The
// domain core stays below the runner, and nothing below cmd reaches the
// terminal UI.
var forbidden = map[string][]string{
	"phase":    {"session", "stages", "orchestrator", "executor", "handler"},
	"session":  {"stages", "orchestrator", "executor", "coverage", "planner"},
	"coverage": {"orchestrator", "executor", "stages"},
	"planner":  {"orchestrator", "executor", "session", "stages"},
	"executor": {"orchestrator", "stages", "coverage", "planner"},
	"stages":   {"orchestrator", "executor", "coverage", "planner"},
	"handler":  {"session", "orchestrator", "executor"},
	"catalog":  {"session", "orchestrator"},
	"event":    {"session", "orchestrator", "executor"},
	"metrics":  {"session", "orchestrator", "executor"},
}

// internalImports returns the internal packages imported by the non-test
// files of dir.
func internalImports(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	require.NoError(t, err)

	fset := token.NewFileSet()
	var out []string
	for _, f := range files {
		if strings.HasSuffix(f, "_test.go") {
			continue
		}
		parsed, err := parser.ParseFile(fset, f, nil, parser.ImportsOnly)
		require.NoError(t, err, f)
		for _, imp := range parsed.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			if name, ok := strings.CutPrefix(path, modulePrefix); ok {
				out = append(out, name)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func TestPackageLayering(t *testing.T) {
	entries, err := os.ReadDir(".")
	require.NoError(t, err)

	checked := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "cmd" {
			continue
		}
		pkg := e.Name()
		imports := internalImports(t, pkg)
		checked++

		t.Run(pkg, func(t *testing.T) {
			if slices.Contains(leaves, pkg) {
				assert.Empty(t, imports, "%s must not depend on other internal packages", pkg)
			}
			for _, bad := range forbidden[pkg] {
				assert.NotContains(t, imports, bad, "%s imports %s", pkg, bad)
			}
			if pkg != "tui" {
				assert.NotContains(t, imports, "tui", "%s imports tui", pkg)
			}
		})
	}
	assert.Greater(t, checked, len(leaves))
}
