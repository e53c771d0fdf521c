package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/tensor"
)

func upload(t *testing.T, cpu *device.CPU, v *tensor.Tensor) *device.DeviceTensor {
	t.Helper()
	d := device.NewDeviceTensor(cpu, v.DType, v.Shape, "")
	addr, err := cpu.AllocateMemory(d.Size())
	require.NoError(t, err)
	d.SetPtr(addr)
	require.NoError(t, d.SyncHostToDevice(v))
	return d
}

func TestAssignAddUpdatesInPlace(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	cpu := device.NewCPU("cpu:0", 4096)

	variable := upload(t, cpu, tensor.FromFloat32(nil, 1, 2))
	delta := upload(t, cpu, tensor.FromFloat32(nil, 0.5, 0.5))
	out := device.NewDeviceTensor(cpu, tensor.Float32, []int{2}, "")
	out.SetPtr(variable.Ptr())

	mod, err := reg.Bind(&model.Kernel{Name: "acc", Type: "AssignAdd", Inputs: make([]model.Ref, 2)})
	require.NoError(t, err)
	for range 2 {
		require.NoError(t, mod.Launch(context.Background(), []*device.DeviceTensor{variable, delta}, nil, []*device.DeviceTensor{out}))
	}

	vals, err := variable.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, vals)

	k, _ := reg.Lookup("AssignAdd")
	assert.Equal(t, map[int]int{0: 0}, k.Refs)
}

func TestAssignRequiresAlias(t *testing.T) {
	reg := registry.New()
	(&Module{}).Register(reg)
	cpu := device.NewCPU("cpu:0", 4096)

	variable := upload(t, cpu, tensor.FromInt32(nil, 1))
	value := upload(t, cpu, tensor.FromInt32(nil, 9))
	detached := upload(t, cpu, tensor.FromInt32(nil, 0))

	mod, err := reg.Bind(&model.Kernel{Name: "set", Type: "Assign", Inputs: make([]model.Ref, 2)})
	require.NoError(t, err)
	err = mod.Launch(context.Background(), []*device.DeviceTensor{variable, value}, nil, []*device.DeviceTensor{detached})
	assert.ErrorContains(t, err, "does not alias its variable")
}
