package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/builder"
	"github.com/vk/flowgrid/internal/testutil"
)

// TestErrorHandling_InvalidGraphIsRejected checks that malformed programs
// fail at startup, before anything runs.
func TestErrorHandling_InvalidGraphIsRejected(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		files map[string]string
		msg   string
	}{
		{
			name: "hcl syntax",
			files: map[string]string{"main.hcl": `
graph "main" {
  parameter "x" {
  // Missing closing braces here
`},
			msg: "failed to load configuration",
		},
		{
			name:  "yaml syntax",
			files: map[string]string{"main.yaml": "graphs: [\n"},
			msg:   "failed to decode YAML file",
		},
		{
			name: "two programs",
			files: map[string]string{
				"a.hcl": `program "a" {
}
`,
				"b.hcl": `program "b" {
}
`,
			},
			msg: "declared twice",
		},
		{
			name: "unknown kernel type",
			files: map[string]string{"main.hcl": `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  kernel "k" {
    type   = "Softmax"
    inputs = ["param.x"]
    output {
      dtype = "float32"
      shape = [2]
    }
  }
}

program "p" {
  inputs = ["graph.main.param.x"]
  output "y" {
    candidates = ["graph.main.kernel.k[0]"]
  }
}
`},
			msg: `unknown kernel type "Softmax"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// --- Act ---
			res := testutil.RunIntegrationTest(t, tc.files, testutil.Options{})

			// --- Assert ---
			require.Error(t, res.Err)
			assert.Nil(t, res.App)
			assert.ErrorContains(t, res.Err, tc.msg)
		})
	}
}

// TestErrorHandling_UnresolvedProducerFailsBuild checks that a program whose
// output names a kernel that does not exist is rejected by the build.
func TestErrorHandling_UnresolvedProducerFailsBuild(t *testing.T) {
	t.Parallel()
	graphHCL := `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }
}

program "p" {
  inputs = ["graph.main.param.x"]
  output "y" {
    candidates = ["graph.main.kernel.ghost[0]"]
  }
}
`
	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{Inputs: []string{"[1, 2]"}})

	require.Error(t, res.Err)
	assert.ErrorContains(t, res.Err, "failed to build program")
	assert.ErrorIs(t, res.Err, builder.ErrUnresolvedProducer)
	assert.ErrorContains(t, res.Err, "ghost")
}
