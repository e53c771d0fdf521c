package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/testutil"
)

const queueHCL = `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
    queue = true
  }

  parameter "y" {
    kind  = "input"
    shape = [2]
    queue = true
  }

  kernel "sum" {
    type   = "Add"
    inputs = ["param.x", "param.y"]
  }
}

program "queued" {
  strategy   = "pipeline"
  loop_count = 3

  output "sum" {
    candidates = ["graph.main.kernel.sum[0]"]
  }
}
`

// TestCoreExecution_QueueInputsConsumeOneBatchPerStep checks that every
// pipeline step pops its own batch from the device queue.
func TestCoreExecution_QueueInputsConsumeOneBatchPerStep(t *testing.T) {
	t.Parallel()

	// --- Act ---
	res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": queueHCL}, testutil.Options{
		Feeds: []string{
			"x=[1, 2]", "main.y=[10, 10]",
			"x=[2, 3]", "main.y=[20, 20]",
			"x=[3, 4]", "main.y=[30, 30]",
		},
	})

	// --- Assert ---
	require.NoError(t, res.Err)
	assert.Equal(t, "sum = float32[2] [33 34]\n", res.Output)
	assert.Contains(t, res.LogOutput, "steps=3")
	assert.Contains(t, res.LogOutput, "Queue inputs fed.")
}

func TestCoreExecution_QueueFeedErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		feeds []string
		msg   string
	}{
		{name: "uneven", feeds: []string{"x=[1, 2]", "x=[2, 3]", "y=[1, 1]"}, msg: "queue inputs need the same number of values"},
		{name: "unknown", feeds: []string{"z=[1, 2]"}, msg: "no such queue input: z"},
		{name: "malformed", feeds: []string{"[1, 2]"}, msg: "want name=value"},
		{name: "too few batches", feeds: []string{"x=[1, 2]", "y=[1, 1]"}, msg: "input queue is empty"},
		{name: "nothing fed", feeds: nil, msg: "input queue is empty"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := testutil.RunIntegrationTest(t, map[string]string{"main.hcl": queueHCL}, testutil.Options{Feeds: tc.feeds})
			require.Error(t, res.Err)
			assert.ErrorContains(t, res.Err, tc.msg)
		})
	}
}
