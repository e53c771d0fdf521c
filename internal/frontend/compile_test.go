package frontend

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/hcl"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/scheduler"
	"github.com/vk/flowgrid/internal/tensor"
	"github.com/vk/flowgrid/modules/collective"
	mathmod "github.com/vk/flowgrid/modules/math"
	"github.com/vk/flowgrid/modules/state"
)

const chain = `
graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }

  parameter "bias" {
    kind  = "weight"
    shape = [2]
    value = [1, 1]
  }

  parameter "acc" {
    kind  = "weight"
    dtype = "int32"
    shape = [2]
    value = 0
  }

  kernel "add" {
    type   = "Add"
    inputs = ["param.x", "param.bias"]
  }

  kernel "cast" {
    type   = "Cast"
    inputs = ["kernel.add[0]"]

    attrs {
      to = "int32"
    }
  }

  kernel "accumulate" {
    type   = "AssignAdd"
    inputs = ["param.acc", "kernel.cast[0]"]
  }
}

program "chain" {
  loop_count = 2
  inputs     = ["graph.main.param.x"]

  output "y" {
    candidates = ["graph.main.kernel.cast[0]"]
  }

  output "acc" {
    candidates = ["graph.main.kernel.accumulate[0]"]
  }
}
`

func newRegistry(ctx context.Context) *registry.Registry {
	r := registry.New()
	r.Load(ctx, &mathmod.Module{}, &state.Module{}, &collective.Module{})
	return r
}

func load(t *testing.T, src string) *config.Model {
	t.Helper()
	m, err := hcl.NewLoader().LoadBytes([]byte(src), "chain.hcl")
	require.NoError(t, err)
	return m
}

func TestCompile(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	prog, err := Compile(ctx, load(t, chain), hcl.NewConverter(), newRegistry(ctx))
	require.NoError(t, err)

	assert.Equal(t, "chain", prog.Name)
	assert.Equal(t, model.Pipeline, prog.Strategy)
	assert.True(t, prog.MemoryReuse)
	assert.Equal(t, 2, prog.Iterations())
	assert.Equal(t, []model.Ref{model.ParamRef("main", "x")}, prog.Inputs)

	require.Len(t, prog.Graphs, 1)
	kg := prog.Graphs[0]
	assert.Equal(t, DefaultDevice, kg.Device)
	assert.Equal(t, "chain.hcl", kg.Source.String())
	require.Len(t, prog.DeviceContexts, 1)
	assert.Equal(t, DefaultDevice, prog.DeviceContexts[0].Name())

	t.Run("values", func(t *testing.T) {
		assert.Equal(t, []float32{1, 1}, kg.Parameter("bias").Value.Float32s())
		acc := kg.Parameter("acc")
		assert.Equal(t, tensor.Int32, acc.DType)
		assert.Equal(t, []int32{0, 0}, acc.Value.Int32s())
		assert.Nil(t, kg.Parameter("x").Value)
	})

	t.Run("inferred outputs", func(t *testing.T) {
		add := kg.Kernel("add")
		assert.Equal(t, []model.Output{{DType: tensor.Float32, Shape: []int{2}, Ref: -1}}, add.Outputs)
		assert.Equal(t, []model.Ref{model.ParamRef("", "x"), model.ParamRef("", "bias")}, add.Inputs)
		assert.Equal(t, tensor.Int32, kg.Kernel("cast").Outputs[0].DType)
	})

	t.Run("kernel type properties", func(t *testing.T) {
		assert.Equal(t, 0, kg.Kernel("accumulate").Outputs[0].Ref)
		assert.False(t, kg.Kernel("add").Communication)
	})
}

func TestCompiledProgramRuns(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	r := newRegistry(ctx)
	prog, err := Compile(ctx, load(t, chain), hcl.NewConverter(), r)
	require.NoError(t, err)

	s := scheduler.New(ctx, scheduler.Config{Workers: 2, MailboxSize: 16, Kernels: r})
	defer s.Close()
	set, err := s.Transform(ctx, prog)
	require.NoError(t, err)

	res, err := s.Run(ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Steps)
	assert.Equal(t, []int32{2, 3}, res.Output("y").Int32s())
	assert.Equal(t, []int32{4, 6}, res.Output("acc").Int32s())
}

func TestCompileSharesDevices(t *testing.T) {
	src := `
device "cpu:1" {
  memory = 8192
}

graph "a" {
  device = "cpu:1"
  parameter "x" {
    kind  = "input"
    shape = [1]
  }
  kernel "r" {
    type   = "Relu"
    inputs = ["param.x"]
  }
}

graph "b" {
  device = "cpu:1"
  parameter "h" {
    kind   = "internal"
    shape  = [1]
    source = "graph.a.kernel.r[0]"
  }
  kernel "n" {
    type   = "Mul"
    inputs = ["param.h", "param.h"]
  }
  kernel "sync" {
    type   = "AllReduce"
    inputs = ["kernel.n[0]"]
  }
}

program "two" {
  strategy     = "step"
  memory_reuse = false
  inputs       = ["graph.a.param.x"]
  output "y" {
    candidates = ["graph.b.kernel.n[0]"]
  }
}
`
	ctx := ctxlog.Discard(context.Background())
	prog, err := Compile(ctx, load(t, src), hcl.NewConverter(), newRegistry(ctx))
	require.NoError(t, err)

	require.Len(t, prog.DeviceContexts, 2)
	assert.Same(t, prog.DeviceContexts[0], prog.DeviceContexts[1])
	assert.Equal(t, "cpu:1", prog.DeviceContexts[0].Name())
	assert.Equal(t, model.Step, prog.Strategy)
	assert.False(t, prog.MemoryReuse)

	h := prog.Graphs[1].Parameter("h")
	require.NotNil(t, h.Source)
	assert.Equal(t, model.KernelRef("a", "r", 0), *h.Source)
	assert.Equal(t, []int{1}, prog.Graphs[1].Kernel("n").Outputs[0].Shape)
	assert.True(t, prog.Graphs[1].Kernel("sync").Communication)
}

func kernelBlock(name, typ, inputs, extra string) string {
	return fmt.Sprintf(`
  kernel %q {
    type   = %q
    inputs = %s%s
  }`, name, typ, inputs, extra)
}

func TestCompileErrors(t *testing.T) {
	graph := func(body string) string {
		return `graph "main" {
  parameter "x" {
    kind  = "input"
    shape = [2]
  }
` + body + `
}
program "p" {
  inputs = ["graph.main.param.x"]
  output "y" {
    candidates = ["graph.main.param.x"]
  }
}
`
	}

	testCases := []struct {
		name string
		src  string
		msg  string
	}{
		{
			name: "no program",
			src:  "graph \"main\" {\n}\n",
			msg:  "no program block found",
		},
		{
			name: "bad reference",
			src:  graph(kernelBlock("r", "Relu", `["tensor.x"]`, "")),
			msg:  `unknown kind "tensor"`,
		},
		{
			name: "unknown producer",
			src:  graph(kernelBlock("r", "Relu", `["kernel.missing[0]"]`, "")),
			msg:  "no such kernel before this one",
		},
		{
			name: "unknown dtype",
			src: graph(`
  parameter "w" {
    kind  = "weight"
    dtype = "float64"
    value = 1
  }`),
			msg: `unknown dtype "float64"`,
		},
		{
			name: "value length",
			src: graph(`
  parameter "w" {
    kind  = "weight"
    shape = [3]
    value = [1, 2]
  }`),
			msg: "value has 2 elements, shape [3] needs 3",
		},
		{
			name: "unknown kernel type",
			src: graph(kernelBlock("k", "Conv", `["param.x"]`, `
    output {
      dtype = "float32"
      shape = [2]
    }`)),
			msg: `unknown kernel type "Conv"`,
		},
		{
			name: "communication flag on plain kernel",
			src:  graph(kernelBlock("k", "Relu", `["param.x"]`, "\n    communication = true")),
			msg:  "communication flag is true but type Relu is false",
		},
		{
			name: "missing weight value",
			src: graph(`
  parameter "w" {
    kind = "weight"
  }`),
			msg: `weight parameter "w" has no value`,
		},
		{
			name: "unknown strategy",
			src: `
graph "main" {
}

program "p" {
  strategy = "eager"
}
`,
			msg: `unknown strategy "eager"`,
		},
	}

	ctx := ctxlog.Discard(context.Background())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(ctx, load(t, tc.src), hcl.NewConverter(), newRegistry(ctx))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.msg)
		})
	}
}
