package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const program = `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  kernel "relu" {
    type   = "Relu"
    inputs = ["param.x"]
  }
}

program "cli" {
  strategy = "step"
  inputs   = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.relu[0]"]
  }
}
`

func writeProgram(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.hcl")
	require.NoError(t, os.WriteFile(path, []byte(program), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	err := Execute(context.Background(), args, &out, &logs)
	if os.Getenv("FLOWGRID_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
	}
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--input", "[-1, 2]", writeProgram(t))
	require.NoError(t, err)
	assert.Equal(t, "y = float32[2] [0 2]\n", out)
}

func TestRunCommandFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queued.hcl")
	src := `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
    queue = true
  }

  kernel "relu" {
    type   = "Relu"
    inputs = ["param.x"]
  }
}

program "queued" {
  loop_count = 2

  output "y" {
    candidates = ["graph.main.kernel.relu[0]"]
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	out, err := execute(t, "run", "--feed", "x=[-1, 2]", "--feed", "x=[3, -4]", path)
	require.NoError(t, err)
	assert.Equal(t, "y = float32[2] [3 0]\n", out)
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeProgram(t))
	require.NoError(t, err)
	assert.Equal(t, "program cli is valid: 1 graphs, 1 inputs, 1 outputs\n", out)
}

func TestDumpCommand(t *testing.T) {
	out, err := execute(t, "dump", writeProgram(t))
	require.NoError(t, err)
	assert.Contains(t, out, "actor_set cli strategy=step iterations=1 reuse=true\n")
	assert.Contains(t, out, "main/relu kind=kernel")
}

func TestUsageErrors(t *testing.T) {
	path := writeProgram(t)
	testCases := []struct {
		name string
		args []string
		msg  string
	}{
		{name: "unknown flag", args: []string{"run", "--bogus", path}, msg: "unknown flag: --bogus"},
		{name: "no paths", args: []string{"validate"}, msg: "requires at least 1 arg(s)"},
		{name: "bad log format", args: []string{"validate", "--log-format", "xml", path}, msg: `invalid log-format "xml"`},
		{name: "bad log level", args: []string{"validate", "--log-level", "loud", path}, msg: `invalid log-level "loud"`},
		{name: "negative workers", args: []string{"validate", "--workers", "-1", path}, msg: "workers must not be negative"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			var exitErr *ExitError
			require.True(t, errors.As(err, &exitErr), "want ExitError, got %v", err)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.msg)
		})
	}
}

func TestRunFailure(t *testing.T) {
	_, err := execute(t, "run", writeProgram(t))
	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
	assert.ErrorContains(t, err, "program cli takes 1 inputs, got 0")
}
