package scheduler

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/device"
	"github.com/vk/flowgrid/internal/inmemorystore"
	"github.com/vk/flowgrid/internal/memory"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/nodestore"
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/internal/sqlitestore"
	"github.com/vk/flowgrid/internal/tensor"
	"github.com/vk/flowgrid/modules/collective"
	"github.com/vk/flowgrid/modules/fault"
	mathmod "github.com/vk/flowgrid/modules/math"
	"github.com/vk/flowgrid/modules/state"
	"github.com/zclconf/go-cty/cty"
)

// tracer records when each Trace kernel starts and ends.
type tracer struct {
	mu     sync.Mutex
	events []string
}

func (tr *tracer) add(event string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, event)
}

func (tr *tracer) Events() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

type traceAttrs struct {
	Tag string `cty:"tag"`
}

// Register adds the Trace kernel, which copies its input after a short pause.
func (tr *tracer) Register(r *registry.Registry) {
	r.RegisterKernel("Trace", &registry.RegisteredKernel{
		NewAttrs: func() any { return new(traceAttrs) },
		Build: func(attrs any) (device.KernelMod, error) {
			tag := attrs.(*traceAttrs).Tag
			return device.KernelFunc(func(_ context.Context, in, _, out []*device.DeviceTensor) error {
				tr.add(tag + " start")
				time.Sleep(10 * time.Millisecond)
				tr.add(tag + " end")
				return out[0].CopyFrom(in[0])
			}), nil
		},
		MinInputs: 1,
		MaxInputs: 1,
	})
}

type fixture struct {
	ctx     context.Context
	sched   *Scheduler
	history *inmemorystore.Store
	trace   *tracer
}

func newFixture(t *testing.T, extra ...registry.Module) *fixture {
	t.Helper()
	ctx := ctxlog.Discard(context.Background())
	tr := &tracer{}
	r := registry.New()
	modules := []registry.Module{&mathmod.Module{}, &state.Module{}, &collective.Module{}, &fault.Module{}, tr}
	r.Load(ctx, append(modules, extra...)...)
	history := inmemorystore.New()
	s := New(ctx, Config{Workers: 4, MailboxSize: 64, Kernels: r, History: history})
	t.Cleanup(s.Close)
	return &fixture{ctx: ctx, sched: s, history: history, trace: tr}
}

func (f *fixture) transform(t *testing.T, prog *model.GraphCompilerInfo) *actorset.ActorSet {
	t.Helper()
	set, err := f.sched.Transform(f.ctx, prog)
	require.NoError(t, err)
	return set
}

func (f *fixture) records(t *testing.T, runID string) []nodestore.Record {
	t.Helper()
	records, err := f.history.Records(f.ctx, runID)
	require.NoError(t, err)
	return records
}

func vec(dtype tensor.DType) model.Output {
	return model.Output{DType: dtype, Shape: []int{2}, Ref: -1}
}

func kernel(name, typ string, inputs ...model.Ref) *model.Kernel {
	return &model.Kernel{Name: name, Type: typ, Inputs: inputs, Outputs: []model.Output{vec(tensor.Float32)}}
}

func param(name string, kind model.ParamKind, value *tensor.Tensor) *model.Parameter {
	return &model.Parameter{Name: name, Kind: kind, DType: tensor.Float32, Shape: []int{2}, Value: value}
}

func x() model.Ref { return model.ParamRef("", "x") }

func local(name string) model.Ref { return model.KernelRef("", name, 0) }

// program wraps kernels into a single graph on one CPU, fed by input x.
func program(name string, params []*model.Parameter, kernels []*model.Kernel, outputs ...string) *model.GraphCompilerInfo {
	main := &model.KernelGraph{
		Name:       "main",
		Parameters: append([]*model.Parameter{param("x", model.Input, nil)}, params...),
		Kernels:    kernels,
	}
	p := &model.GraphCompilerInfo{
		Name:           name,
		Graphs:         []*model.KernelGraph{main},
		DeviceContexts: []device.Context{device.NewCPU("cpu:0", 1<<16)},
		Inputs:         []model.Ref{model.ParamRef("main", "x")},
		MemoryReuse:    true,
	}
	for _, o := range outputs {
		p.Outputs = append(p.Outputs, model.OutputSpec{Name: o, Candidates: []model.Ref{model.KernelRef("main", o, 0)}})
	}
	return p
}

func mustLookup(t *testing.T, set *actorset.ActorSet, name string) *actorset.Actor {
	t.Helper()
	a, ok := set.Lookup(name)
	require.True(t, ok, "actor %s", name)
	return a
}

func assertSingleFire(t *testing.T, records []nodestore.Record) {
	t.Helper()
	for _, r := range records {
		assert.LessOrEqual(t, r.Fires, 1, "%s fired more than once in step %d", r.Actor, r.Seq)
	}
}

func TestRunLinearChain(t *testing.T) {
	f := newFixture(t)
	cast := &model.Kernel{
		Name: "cast", Type: "Cast",
		Inputs:  []model.Ref{local("relu")},
		Outputs: []model.Output{vec(tensor.Int32)},
		Attrs:   map[string]cty.Value{"to": cty.StringVal("int32")},
	}
	prog := program("chain",
		[]*model.Parameter{param("bias", model.Weight, tensor.FromFloat32(nil, 0.5, 0.5))},
		[]*model.Kernel{
			kernel("add", "Add", x(), model.ParamRef("", "bias")),
			kernel("relu", "Relu", local("add")),
			cast,
		},
		"cast",
	)
	set := f.transform(t, prog)

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, -2)})
	require.NoError(t, err)
	require.Len(t, res.Outputs, 1)
	out := res.Output("cast")
	require.NotNil(t, out)
	assert.Equal(t, tensor.Int32, out.DType)
	assert.Equal(t, []int32{1, 0}, out.Int32s())
	assert.Equal(t, int64(1), res.Steps)
	assertSingleFire(t, f.records(t, res.RunID))
}

func TestRunIndependentKernels(t *testing.T) {
	f := newFixture(t)
	prog := program("pair", nil,
		[]*model.Kernel{
			kernel("double", "Add", x(), x()),
			kernel("square", "Mul", x(), x()),
		},
		"double", "square",
	)
	set := f.transform(t, prog)

	for range 5 {
		res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 3, -1)})
		require.NoError(t, err)
		assert.Equal(t, []string{"double", "square"}, res.Names)
		require.Len(t, res.Outputs, 2)
		assert.Equal(t, []float32{6, -2}, res.Outputs[0].Float32s())
		assert.Equal(t, []float32{9, 1}, res.Outputs[1].Float32s())
	}
}

// branching picks t (Relu) when x[0] > 0 and f (Identity) otherwise.
func branching() *model.GraphCompilerInfo {
	prog := program("branching",
		[]*model.Parameter{param("zero", model.Const, tensor.FromFloat32(nil, 0, 0))},
		[]*model.Kernel{{
			Name: "c", Type: "Greater",
			Inputs:  []model.Ref{x(), model.ParamRef("", "zero")},
			Outputs: []model.Output{vec(tensor.Bool)},
		}},
	)
	branch := func(name, typ string) *model.KernelGraph {
		return &model.KernelGraph{
			Name:       name,
			Parameters: []*model.Parameter{param("a", model.Input, nil)},
			Kernels:    []*model.Kernel{kernel("r", typ, model.ParamRef("", "a"))},
		}
	}
	cpu := prog.DeviceContexts[0]
	prog.Graphs = append(prog.Graphs, branch("t", "Relu"), branch("f", "Identity"))
	prog.DeviceContexts = append(prog.DeviceContexts, cpu, cpu)
	prog.Switches = []*model.Switch{{
		Name:   "sw",
		Cond:   model.KernelRef("main", "c", 0),
		Inputs: []model.Ref{model.ParamRef("main", "x")},
		True:   "t",
		False:  "f",
	}}
	prog.Outputs = []model.OutputSpec{{
		Name:       "y",
		Candidates: []model.Ref{model.KernelRef("t", "r", 0), model.KernelRef("f", "r", 0)},
	}}
	return prog
}

func TestRunSwitchTakesOneBranch(t *testing.T) {
	f := newFixture(t)
	set := f.transform(t, branching())

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, -2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, res.Output("y").Float32s())
	assert.Equal(t, []string{"t"}, res.Branches)

	for _, name := range []string{"f/entry", "f/r"} {
		a := mustLookup(t, set, name)
		assert.Zero(t, a.Received(), "%s must not see any message", name)
		assert.Zero(t, a.Pending(), name)
	}
	assert.Equal(t, int64(1), mustLookup(t, set, "t/r").Fires())

	t.Run("false condition", func(t *testing.T) {
		res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, -1, 4)})
		require.NoError(t, err)
		assert.Equal(t, []float32{-1, 4}, res.Output("y").Float32s())
		assert.Equal(t, []string{"f"}, res.Branches)
		assert.Equal(t, int64(1), mustLookup(t, set, "t/r").Fires(), "true branch stays idle")
		assert.Equal(t, int64(1), mustLookup(t, set, "f/r").Fires())
	})
}

func TestRunGatherCallsGraph(t *testing.T) {
	f := newFixture(t)
	prog := program("gathering", nil, []*model.Kernel{
		kernel("a", "Add", x(), x()),
		kernel("b", "Relu", x()),
	})
	sub := &model.KernelGraph{
		Name:       "sub",
		Parameters: []*model.Parameter{param("p", model.Input, nil), param("q", model.Input, nil)},
		Kernels:    []*model.Kernel{kernel("s", "Add", model.ParamRef("", "p"), model.ParamRef("", "q"))},
	}
	prog.Graphs = append(prog.Graphs, sub)
	prog.DeviceContexts = append(prog.DeviceContexts, prog.DeviceContexts[0])
	prog.Gathers = []*model.Gather{{
		Name:   "ga",
		Inputs: []model.Ref{model.KernelRef("main", "a", 0), model.KernelRef("main", "b", 0)},
		Graph:  "sub",
	}}
	prog.Outputs = []model.OutputSpec{{Name: "y", Candidates: []model.Ref{model.KernelRef("sub", "s", 0)}}}
	set := f.transform(t, prog)

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, -2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, -4}, res.Output("y").Float32s())
	assert.Equal(t, int64(1), res.Steps)
	assert.Equal(t, []string{"sub"}, res.Branches)
	assert.Equal(t, int64(1), mustLookup(t, set, "sub/s").Fires())
	assertSingleFire(t, f.records(t, res.RunID))

	t.Run("every run calls the graph again", func(t *testing.T) {
		res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 2, 3)})
		require.NoError(t, err)
		assert.Equal(t, []float32{6, 9}, res.Output("y").Float32s())
		assert.Equal(t, []string{"sub"}, res.Branches)
		assert.Equal(t, int64(2), mustLookup(t, set, "sub/s").Fires())
	})
}

func TestRunKernelFailure(t *testing.T) {
	f := newFixture(t)
	t.Cleanup(func() { fault.Reset("scheduler-failure") })
	bad := kernel("bad", "Fail", x())
	bad.Attrs = map[string]cty.Value{
		"message": cty.StringVal("simulated"),
		"wait":    cty.StringVal("scheduler-failure"),
	}
	good := kernel("good", "Signal", x())
	good.Attrs = map[string]cty.Value{"latch": cty.StringVal("scheduler-failure")}
	set := f.transform(t, program("failing", nil, []*model.Kernel{bad, good}, "bad", "good"))

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrInjected)
	var kerr *actorset.KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, "main/bad", kerr.Kernel)

	require.NotNil(t, res)
	assert.Nil(t, res.Outputs)
	assert.Zero(t, res.Steps)

	assert.Equal(t, int64(1), mustLookup(t, set, "main/good").Fires(), "the independent kernel still runs")
	assert.Zero(t, mustLookup(t, set, "failing/output").Fires(), "no output for a failed step")

	seq := f.records(t, res.RunID)[0].Seq
	status, err := f.history.GetStatus(f.ctx, nodestore.Key{RunID: res.RunID, Seq: seq, Actor: "main/good"})
	require.NoError(t, err)
	assert.Equal(t, nodestore.StatusDone, status)
	status, err = f.history.GetStatus(f.ctx, nodestore.Key{RunID: res.RunID, Seq: seq, Actor: "main/bad"})
	require.NoError(t, err)
	assert.Equal(t, nodestore.StatusFailed, status)

	t.Run("set stays usable", func(t *testing.T) {
		_, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
		assert.ErrorIs(t, err, fault.ErrInjected)
	})
}

func TestRunPipeline(t *testing.T) {
	f := newFixture(t)
	acc := kernel("acc", "AssignAdd", model.ParamRef("", "v"), x())
	acc.Outputs[0].Ref = 0
	prog := program("loop",
		[]*model.Parameter{param("v", model.Weight, tensor.FromFloat32(nil, 0, 0))},
		[]*model.Kernel{acc},
		"acc",
	)
	prog.LoopCount = 3
	set := f.transform(t, prog)

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Steps)
	assert.Equal(t, []float32{3, 6}, res.Output("acc").Float32s(), "one update per step")
	assert.Equal(t, int64(3), mustLookup(t, set, "loop/output").Fires())

	records := f.records(t, res.RunID)
	assertSingleFire(t, records)
	steps := map[uint64]bool{}
	for _, r := range records {
		steps[r.Seq] = true
	}
	assert.Len(t, steps, 3)

	t.Run("weights persist across runs", func(t *testing.T) {
		res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
		require.NoError(t, err)
		assert.Equal(t, []float32{6, 12}, res.Output("acc").Float32s())
	})

	t.Run("step mode", func(t *testing.T) {
		prog := program("once",
			[]*model.Parameter{param("v", model.Weight, tensor.FromFloat32(nil, 0, 0))},
			[]*model.Kernel{acc},
			"acc",
		)
		prog.LoopCount = 3
		prog.Strategy = model.Step
		set := f.transform(t, prog)
		res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Steps)
		assert.Equal(t, []float32{1, 2}, res.Output("acc").Float32s())
	})
}

func TestRunOrdersCommunication(t *testing.T) {
	f := newFixture(t)
	comm := func(name string) *model.Kernel {
		k := kernel(name, "Trace", x())
		k.Attrs = map[string]cty.Value{"tag": cty.StringVal(name)}
		k.Communication = true
		return k
	}
	set := f.transform(t, program("comm", nil, []*model.Kernel{comm("first"), comm("second")}, "first", "second"))

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"first start", "first end", "second start", "second end"}, f.trace.Events())
	assert.Equal(t, []float32{1, 2}, res.Output("second").Float32s())
}

func TestRunSharedMemory(t *testing.T) {
	kernels := func() []*model.Kernel {
		return []*model.Kernel{
			kernel("a", "Add", x(), x()),
			kernel("b", "Add", local("a"), x()),
			kernel("c", "Add", local("b"), x()),
			kernel("d", "Add", local("c"), local("b")),
			kernel("e", "Add", local("d"), x()),
		}
	}
	for _, reuse := range []bool{true, false} {
		t.Run(map[bool]string{true: "reuse", false: "per firing"}[reuse], func(t *testing.T) {
			f := newFixture(t)
			prog := program("shared", nil, kernels(), "e")
			prog.MemoryReuse = reuse
			prog.LoopCount = 4
			set := f.transform(t, prog)

			res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
			require.NoError(t, err)
			assert.Equal(t, []float32{8, 16}, res.Output("e").Float32s())
			assert.Equal(t, int64(4), res.Steps)
		})
	}
}

func TestSchedulerCache(t *testing.T) {
	f := newFixture(t)
	prog := program("cached", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r")

	first := f.transform(t, prog)
	second := f.transform(t, prog)
	assert.Same(t, first, second)

	fetched, ok := f.sched.Fetch("cached")
	require.True(t, ok)
	assert.Same(t, first, fetched)
	assert.Equal(t, []string{"cached"}, f.sched.Names())

	var buf bytes.Buffer
	require.NoError(t, f.sched.Dump(&buf, "cached"))
	assert.Contains(t, buf.String(), "actor_set cached strategy=pipeline")
	assert.Error(t, f.sched.Dump(&buf, "missing"))

	assert.True(t, f.sched.Destroy("cached"))
	assert.False(t, f.sched.Destroy("cached"))
	_, ok = f.sched.Fetch("cached")
	assert.False(t, ok)
	_, err := f.sched.Run(f.ctx, first, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	assert.Error(t, err)
}

func TestRunRejectsBadInputs(t *testing.T) {
	f := newFixture(t)
	set := f.transform(t, program("inputs", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r"))

	tests := []struct {
		name   string
		inputs []*tensor.Tensor
		want   string
	}{
		{name: "missing", inputs: nil, want: "takes 1 inputs, got 0"},
		{name: "too many", inputs: []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2), tensor.FromFloat32(nil, 3, 4)}, want: "takes 1 inputs, got 2"},
		{name: "wrong type", inputs: []*tensor.Tensor{tensor.FromInt32(nil, 1, 2)}, want: "input 0 of inputs is"},
		{name: "wrong size", inputs: []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2, 3)}, want: "input 0 of inputs is"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.Run(f.ctx, set, tt.inputs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, -1, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2}, res.Output("r").Float32s())
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	t.Cleanup(func() { fault.Reset("scheduler-cancel") })
	stuck := kernel("stuck", "Fail", x())
	stuck.Attrs = map[string]cty.Value{"wait": cty.StringVal("scheduler-cancel"), "timeout_ms": cty.NumberIntVal(60000)}
	set := f.transform(t, program("stuck", nil, []*model.Kernel{stuck}, "stuck"))

	ctx, cancel := context.WithTimeout(f.ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := f.sched.Run(ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res.Outputs)
	assert.Less(t, time.Since(start), 10*time.Second, "the waiting kernel is released by the cancellation")

	// The kernel already finished when Run returned.
	seq := f.records(t, res.RunID)[0].Seq
	status, err := f.history.GetStatus(f.ctx, nodestore.Key{RunID: res.RunID, Seq: seq, Actor: "main/stuck"})
	require.NoError(t, err)
	assert.Equal(t, nodestore.StatusFailed, status)
	assert.True(t, f.sched.Destroy("stuck"))
}

// slowKernel sleeps without looking at its context.
type slowKernel struct {
	running  atomic.Bool
	finished atomic.Bool
}

func (s *slowKernel) Register(r *registry.Registry) {
	r.RegisterKernel("Slow", &registry.RegisteredKernel{
		Build: func(any) (device.KernelMod, error) {
			return device.KernelFunc(func(_ context.Context, in, _, out []*device.DeviceTensor) error {
				s.running.Store(true)
				time.Sleep(200 * time.Millisecond)
				err := out[0].CopyFrom(in[0])
				s.finished.Store(true)
				return err
			}), nil
		},
		MinInputs: 1,
		MaxInputs: 1,
	})
}

func TestRunCancelledWaitsForRunningKernels(t *testing.T) {
	slow := &slowKernel{}
	f := newFixture(t, slow)
	prog := program("slow", nil, []*model.Kernel{kernel("s", "Slow", x()), kernel("after", "Relu", local("s"))}, "after")
	prog.MemoryReuse = false
	cpu := prog.DeviceContexts[0].(*device.CPU)
	set := f.transform(t, prog)

	ctx, cancel := context.WithTimeout(f.ctx, 30*time.Millisecond)
	defer cancel()
	res, err := f.sched.Run(ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res.Outputs)

	assert.True(t, slow.running.Load())
	assert.True(t, slow.finished.Load(), "Run returned while a kernel was still writing")
	assert.Zero(t, mustLookup(t, set, "main/after").Fires(), "nothing runs after the cancellation")
	assert.Zero(t, mustLookup(t, set, "main/after").Pending())

	require.True(t, f.sched.Destroy("slow"))
	assert.Zero(t, cpu.InUse())
}

func TestRunOutOfMemoryAtFiring(t *testing.T) {
	f := newFixture(t)
	prog := program("tight", nil, []*model.Kernel{kernel("a", "Add", x(), x()), kernel("b", "Relu", local("a"))}, "b")
	prog.MemoryReuse = false
	// Room for the input and the graph output only.
	cpu := device.NewCPU("cpu:0", 128)
	prog.DeviceContexts = []device.Context{cpu}
	set := f.transform(t, prog)

	res, err := f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	var resErr *memory.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.ErrorIs(t, err, device.ErrOutOfMemory)
	assert.Equal(t, "main/a output", resErr.What)
	assert.Equal(t, 8, resErr.Size)
	assert.Contains(t, err.Error(), "cannot allocate 8 bytes on cpu:0 for main/a output")
	assert.Nil(t, res.Outputs)
	assert.Zero(t, mustLookup(t, set, "main/b").Fires())

	require.True(t, f.sched.Destroy("tight"))
	assert.Zero(t, cpu.InUse())
}

// queued reads x from the device queue instead of the host.
func queued(name string, loops int) *model.GraphCompilerInfo {
	prog := program(name, nil, []*model.Kernel{kernel("r", "Relu", x())}, "r")
	prog.Graphs[0].Parameters[0].Queue = true
	prog.Inputs = nil
	prog.LoopCount = loops
	return prog
}

func TestFeedDrivesQueueInputs(t *testing.T) {
	f := newFixture(t)
	set := f.transform(t, queued("fed", 3))
	assert.Equal(t, []string{"graph.main.param.x"}, QueueInputs(set))

	require.NoError(t, f.sched.Feed(set,
		[]*tensor.Tensor{tensor.FromFloat32(nil, 1, -1)},
		[]*tensor.Tensor{tensor.FromFloat32(nil, 2, -2)},
		[]*tensor.Tensor{tensor.FromFloat32(nil, 3, -3)},
	))
	assert.Equal(t, 3, set.DeviceQueue.Len())

	res, err := f.sched.Run(f.ctx, set, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Steps)
	assert.Equal(t, []float32{3, 0}, res.Output("r").Float32s(), "the last step saw the last batch")
	assert.Zero(t, set.DeviceQueue.Len())
	assert.Equal(t, int64(3), mustLookup(t, set, "main/r").Fires())

	t.Run("empty queue fails the run", func(t *testing.T) {
		res, err := f.sched.Run(f.ctx, set, nil)
		require.ErrorIs(t, err, actorset.ErrNoInput)
		assert.Nil(t, res.Outputs)
		assert.Zero(t, res.Steps)
	})

	t.Run("short feed stops after the fed steps", func(t *testing.T) {
		require.NoError(t, f.sched.Feed(set, []*tensor.Tensor{tensor.FromFloat32(nil, 5, 5)}))
		res, err := f.sched.Run(f.ctx, set, nil)
		require.ErrorIs(t, err, actorset.ErrNoInput)
		assert.LessOrEqual(t, res.Steps, int64(1))
		assert.Zero(t, set.DeviceQueue.Len())
	})

	t.Run("bad batches queue nothing", func(t *testing.T) {
		tests := []struct {
			name  string
			batch []*tensor.Tensor
		}{
			{"too many tensors", []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2), tensor.FromFloat32(nil, 1, 2)}},
			{"wrong dtype", []*tensor.Tensor{tensor.FromInt32(nil, 1, 2)}},
			{"wrong size", []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2, 3)}},
			{"nil tensor", []*tensor.Tensor{nil}},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				err := f.sched.Feed(set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)}, tc.batch)
				require.Error(t, err)
				assert.Zero(t, set.DeviceQueue.Len())
			})
		}
	})

	t.Run("host fed programs have no queue", func(t *testing.T) {
		host := f.transform(t, program("host", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r"))
		assert.Nil(t, QueueInputs(host))
		err := f.sched.Feed(host, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
		assert.ErrorIs(t, err, ErrNoQueueInputs)
	})
}

func TestRunRecordsRuns(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	r := registry.New()
	r.Load(ctx, &mathmod.Module{})
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(ctx, Config{Workers: 2, MailboxSize: 16, Kernels: r, History: store})
	t.Cleanup(s.Close)
	prog := program("recorded", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r")
	prog.LoopCount = 2
	set, err := s.Transform(ctx, prog)
	require.NoError(t, err)

	res, err := s.Run(ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	require.NoError(t, err)

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)
	assert.Equal(t, "recorded", runs[0].Program)
	assert.Equal(t, "pipeline", runs[0].Strategy)
	assert.Equal(t, int64(2), runs[0].Steps)
	assert.Equal(t, "done", runs[0].Status)

	records, err := store.Records(ctx, res.RunID)
	require.NoError(t, err)
	assertSingleFire(t, records)
}

func TestClosedScheduler(t *testing.T) {
	f := newFixture(t)
	set := f.transform(t, program("closing", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r"))
	f.sched.Close()
	f.sched.Close()

	_, err := f.sched.Transform(f.ctx, program("late", nil, []*model.Kernel{kernel("r", "Relu", x())}, "r"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = f.sched.Run(f.ctx, set, []*tensor.Tensor{tensor.FromFloat32(nil, 1, 2)})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, set.Spawned())
}
