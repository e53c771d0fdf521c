package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/testutil"
)

const branchingHCL = `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  parameter "zero" {
    kind  = "const"
    shape = [2]
    value = 0
  }

  kernel "positive" {
    type   = "Greater"
    inputs = ["param.x", "param.zero"]
  }
}

graph "relu" {
  parameter "a" {
    kind  = "input"
    shape = [2]
  }

  kernel "out" {
    type   = "Relu"
    inputs = ["param.a"]
  }
}

graph "negate" {
  parameter "a" {
    kind  = "input"
    shape = [2]
  }

  parameter "minus" {
    kind  = "const"
    shape = [1]
    value = -1
  }

  kernel "out" {
    type   = "Mul"
    inputs = ["param.a", "param.minus"]
  }
}

switch "sw" {
  cond     = "graph.main.kernel.positive[0]"
  inputs   = ["graph.main.param.x"]
  on_true  = "relu"
  on_false = "negate"
}

program "branching" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.relu.kernel.out[0]", "graph.negate.kernel.out[0]"]
  }
}
`

// TestControlFlow_SwitchRunsOneBranch checks that a switch hands its inputs
// to exactly one branch graph per step.
func TestControlFlow_SwitchRunsOneBranch(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "true branch", input: "[1, -2]", want: "y = float32[2] [1 0]\n"},
		{name: "false branch", input: "[-1, 4]", want: "y = float32[2] [1 -4]\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// --- Act ---
			res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": branchingHCL}, testutil.Options{Inputs: []string{tc.input}})

			// --- Assert ---
			require.NoError(t, res.Err)
			assert.Equal(t, tc.want, res.Output)
		})
	}
}

// TestControlFlow_DumpShowsBranchArrows checks the dump of a branching
// program names both branch targets.
func TestControlFlow_DumpShowsBranchArrows(t *testing.T) {
	t.Parallel()

	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": branchingHCL}, testutil.Options{
		Inputs:   []string{"[1, 1]"},
		DumpPath: "-",
	})

	require.NoError(t, res.Err)
	assert.Contains(t, res.Output, "branch true -> relu/entry graph=relu")
	assert.Contains(t, res.Output, "branch false -> negate/entry graph=negate")
}
