// Package testutil runs whole programs through the application for
// integration tests: graph files are written to a temporary directory,
// loaded, compiled and run once.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/app"
	"github.com/vk/flowgrid/internal/registry"
)

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	// Output is what the run printed: one "name = value" line per output.
	Output    string
	LogOutput string
	Err       error
	App       *app.App
}

// Options tune a harness run.
type Options struct {
	// Inputs are the program input literals.
	Inputs []string
	// Feeds are name=literal queue input values.
	Feeds []string
	// DumpPath is passed through to the app; "-" dumps into Output.
	DumpPath string
	// Modules replace the core kernel modules when set.
	Modules []registry.Module
}

// RunIntegrationTest runs the program in files with a background context.
// Keys of files are paths relative to the graph directory.
func RunIntegrationTest(t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, opts)
}

// RunIntegrationTestWithContext runs the program in files under ctx. Startup
// and run errors are returned in the result, never failing the test.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()

	graphDir := filepath.Join(t.TempDir(), "graphs")
	for name, content := range files {
		path := filepath.Join(graphDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg, err := app.NewConfig(app.Config{
		GraphPaths: []string{graphDir},
		LogLevel:   "debug",
		LogFormat:  "text",
		Workers:    4,
		Inputs:     opts.Inputs,
		Feeds:      opts.Feeds,
		DumpPath:   opts.DumpPath,
	})
	require.NoError(t, err)

	logBuffer := &app.SafeBuffer{}
	res := &HarnessResult{}
	defer func() {
		res.LogOutput = logBuffer.String()
		if os.Getenv("FLOWGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), res.LogOutput)
		}
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Err = fmt.Errorf("application startup panicked | %v", r)
			}
		}()
		res.App, res.Err = app.NewApp(logBuffer, cfg, app.NewLoader(), opts.Modules...)
	}()
	if res.Err != nil {
		return res
	}

	var out bytes.Buffer
	res.Err = res.App.Run(ctx, &out)
	res.Output = out.String()
	return res
}
