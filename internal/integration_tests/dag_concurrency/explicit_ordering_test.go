package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/testutil"
	mathmod "github.com/vk/flowgrid/modules/math"
)

// TestDagConcurrency_AfterOrdersIndependentKernels validates that `after`
// serializes kernels that share no data.
func TestDagConcurrency_AfterOrdersIndependentKernels(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [1]
  }

  kernel "first" {
    type   = "Sleep"
    inputs = ["param.x"]
    attrs {
      tag = "first"
      ms  = 60
    }
  }

  kernel "second" {
    type   = "Sleep"
    inputs = ["param.x"]
    after  = ["first"]
    attrs {
      tag = "second"
      ms  = 10
    }
  }

  kernel "sum" {
    type   = "Add"
    inputs = ["kernel.first[0]", "kernel.second[0]"]
  }
}

program "ordered" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.sum[0]"]
  }
}
`
	sleeper := testutil.NewSleeperModule()

	// --- Act ---
	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Inputs:  []string{"3"},
		Modules: []registry.Module{&mathmod.Module{}, sleeper},
	})

	// --- Assert ---
	require.NoError(t, res.Err)
	assert.Equal(t, "y = float32[1] [6]\n", res.Output)

	first, second := sleeper.Records("first"), sleeper.Records("second")
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.False(t, second[0].Start.Before(first[0].End), "second must wait for first")
}
