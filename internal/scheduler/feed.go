package scheduler

import (
	"errors"
	"fmt"

	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/tensor"
)

// ErrNoQueueInputs is returned by Feed for a program without queue-fed
// input parameters.
var ErrNoQueueInputs = errors.New("program has no queue inputs")

// Feed appends batches to the device queue of set. Every step of a run pops
// one batch, so a run of n steps needs n batches queued before it starts or
// while it runs. A batch holds one tensor per queue input, in the order of
// QueueInputs. Feed checks every batch before queuing any of them.
func (s *Scheduler) Feed(set *actorset.ActorSet, batches ...[]*tensor.Tensor) error {
	if _, err := s.lookup(set); err != nil {
		return err
	}
	src := set.QueueSource()
	if src == nil {
		return fmt.Errorf("feed %s: %w", set.Name, ErrNoQueueInputs)
	}
	for i, batch := range batches {
		if len(batch) != len(src.Outputs) {
			return fmt.Errorf("feed %s: batch %d has %d tensors, want %d", set.Name, i, len(batch), len(src.Outputs))
		}
		if err := checkBatch(set, src, batch, fmt.Sprintf("batch %d queue input", i)); err != nil {
			return fmt.Errorf("feed: %w", err)
		}
	}
	for i, batch := range batches {
		if err := set.DeviceQueue.Push(batch); err != nil {
			return fmt.Errorf("feed %s: batch %d: %w", set.Name, i, err)
		}
	}
	return nil
}

// QueueInputs lists the qualified names of the queue-fed parameters of set,
// in the order Feed expects their tensors.
func QueueInputs(set *actorset.ActorSet) []string {
	src := set.QueueSource()
	if src == nil {
		return nil
	}
	names := make([]string, len(src.Params))
	for i, pos := range src.Positions {
		names[pos] = src.Params[i].String()
	}
	return names
}
