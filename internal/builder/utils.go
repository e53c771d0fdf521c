package builder

import (
	"errors"

	"github.com/vk/flowgrid/internal/dag"
)

// validate checks the linked set: no actor may depend on itself, and
// within a graph kernels may only feed kernels that execute later.
func (b *builder) validate() error {
	if err := b.checkAcyclic(); err != nil {
		return err
	}

	for _, a := range b.set.Actors {
		from, ok := b.pos[a.Index]
		if !ok {
			continue
		}
		check := func(to int) error {
			pos, ok := b.pos[to]
			if !ok || b.set.Actors[to].Graph != a.Graph || pos > from {
				return nil
			}
			return buildErr(b.set.Actors[to].Name, ErrInvalidGraph, "executes before %s, which it depends on", a.Name)
		}
		for _, d := range a.Data {
			if err := check(d.To); err != nil {
				return err
			}
		}
		for _, c := range a.Control {
			if err := check(c.To); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkAcyclic fails when the arrows of the set, of any kind, form a loop.
// It runs again once memory planning has added its ordering arrows.
func (b *builder) checkAcyclic() error {
	g := dag.New[int]()
	for i := range b.set.Actors {
		g.AddNode(i)
	}
	edge := func(from, to int) error {
		if err := g.AddEdge(from, to); err != nil {
			return buildErr(b.set.Actors[from].Name, ErrCycle, "%v", err)
		}
		return nil
	}
	for _, a := range b.set.Actors {
		for _, d := range a.Data {
			if err := edge(d.From, d.To); err != nil {
				return err
			}
		}
		for _, r := range a.Results {
			if err := edge(r.From, r.To); err != nil {
				return err
			}
		}
		for _, c := range a.Control {
			if err := edge(c.From, c.To); err != nil {
				return err
			}
		}
		for _, br := range a.Branches {
			if err := edge(br.From, br.To); err != nil {
				return err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		var cerr *dag.CycleError[int]
		if errors.As(err, &cerr) {
			return buildErr(b.set.Actors[cerr.Node].Name, ErrCycle, "actor depends on its own output")
		}
		return buildErr(b.prog.Name, ErrCycle, "%v", err)
	}
	return nil
}
