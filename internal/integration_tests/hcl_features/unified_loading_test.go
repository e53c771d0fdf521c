package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/testutil"
)

// TestHCLFeatures_UnifiedLoading checks that graphs and the program may be
// split across HCL and YAML files in nested directories.
func TestHCLFeatures_UnifiedLoading(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	files := map[string]string{
		"graphs/main.yaml": `
graphs:
  - name: main
    parameters:
      - {name: x, kind: input, dtype: int32, shape: [3]}
      - {name: step, kind: const, dtype: int32, shape: [1], value: 10}
    kernels:
      - {name: add, type: Add, inputs: [param.x, param.step]}
`,
		"program.hcl": `
program "mixed" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.add[0]"]
  }
}
`,
	}

	// --- Act ---
	res := testutil.RunIntegrationTest(t, files, testutil.Options{Inputs: []string{"[1, 2, 3]"}})

	// --- Assert ---
	require.NoError(t, res.Err)
	assert.Equal(t, "y = int32[3] [11 12 13]\n", res.Output)
	assert.Equal(t, "mixed", res.App.Program().Name)
}

// TestHCLFeatures_SkippedKernelPassesThrough checks that a skipped kernel is
// not executed and its users read its input instead.
func TestHCLFeatures_SkippedKernelPassesThrough(t *testing.T) {
	t.Parallel()
	graphHCL := `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  kernel "disabled" {
    type   = "Fail"
    inputs = ["param.x"]
    skip   = true
  }

  kernel "double" {
    type   = "Add"
    inputs = ["kernel.disabled[0]", "kernel.disabled[0]"]
  }
}

program "skipping" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.double[0]"]
  }
}
`
	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Inputs:   []string{"[1.5, -1]"},
		DumpPath: "-",
	})

	require.NoError(t, res.Err)
	assert.Contains(t, res.Output, "y = float32[2] [3 -2]\n")
	assert.NotContains(t, res.Output, "main/disabled", "skipped kernels get no actor")
}
