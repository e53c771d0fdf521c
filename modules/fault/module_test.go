package fault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestFailWaitsForLatch(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	t.Cleanup(func() { Reset("fault-test") })

	mod, err := reg.Bind(&model.Kernel{Name: "f", Type: "Fail", Attrs: map[string]cty.Value{
		"message": cty.StringVal("boom"),
		"wait":    cty.StringVal("fault-test"),
	}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- mod.Launch(context.Background(), nil, nil, nil) }()

	select {
	case <-done:
		t.Fatal("Fail returned before its latch opened")
	case <-time.After(20 * time.Millisecond):
	}

	Open("fault-test")
	Open("fault-test") // idempotent
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrInjected))
		assert.ErrorContains(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("Fail never returned")
	}
}

func TestFailTimesOut(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	t.Cleanup(func() { Reset("never") })

	mod, err := reg.Bind(&model.Kernel{Name: "f", Type: "Fail", Attrs: map[string]cty.Value{
		"wait":       cty.StringVal("never"),
		"timeout_ms": cty.NumberIntVal(10),
	}})
	require.NoError(t, err)
	assert.ErrorContains(t, mod.Launch(context.Background(), nil, nil, nil), `latch "never" never opened`)
}

func TestSignalRequiresLatch(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	_, err := reg.Bind(&model.Kernel{Name: "s", Type: "Signal", Inputs: make([]model.Ref, 1)})
	assert.ErrorContains(t, err, "latch must be set")
}
