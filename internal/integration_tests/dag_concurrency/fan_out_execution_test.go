package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/testutil"
	mathmod "github.com/vk/flowgrid/modules/math"
)

// TestDagConcurrency_FanOutExecution validates that kernels without an arrow
// between them run concurrently and that their consumer waits for both.
func TestDagConcurrency_FanOutExecution(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  kernel "a" {
    type   = "Sleep"
    inputs = ["param.x"]
    attrs {
      tag = "a"
      ms  = 100
    }
  }

  kernel "b" {
    type   = "Sleep"
    inputs = ["param.x"]
    attrs {
      tag = "b"
      ms  = 100
    }
  }

  kernel "sum" {
    type   = "Add"
    inputs = ["kernel.a[0]", "kernel.b[0]"]
  }

  kernel "c" {
    type   = "Sleep"
    inputs = ["kernel.sum[0]"]
    attrs {
      tag = "c"
      ms  = 1
    }
  }
}

program "fan_out" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.c[0]"]
  }
}
`
	sleeper := testutil.NewSleeperModule()

	// --- Act ---
	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Inputs:  []string{"[1, 2]"},
		Modules: []registry.Module{&mathmod.Module{}, sleeper},
	})

	// --- Assert ---
	require.NoError(t, res.Err)
	assert.Equal(t, "y = float32[2] [2 4]\n", res.Output)

	a, b, c := sleeper.Records("a"), sleeper.Records("b"), sleeper.Records("c")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.Len(t, c, 1)
	assert.True(t, a[0].Overlaps(b[0]), "a and b should run concurrently")
	assert.False(t, c[0].Start.Before(a[0].End), "c must start after a ends")
	assert.False(t, c[0].Start.Before(b[0].End), "c must start after b ends")
}
