package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/flowgrid/internal/actorset"
	"github.com/vk/flowgrid/internal/frontend"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/tensor"
)

// parseInputs turns the literal input values into host tensors shaped like
// the program inputs. Literals use HCL syntax: `[1, 2]`, `3` or `true`.
func (a *App) parseInputs(ctx context.Context) ([]*tensor.Tensor, error) {
	want := a.program.Inputs
	if len(a.config.Inputs) != len(want) {
		return nil, fmt.Errorf("program %s takes %d inputs, got %d", a.program.Name, len(want), len(a.config.Inputs))
	}

	out := make([]*tensor.Tensor, len(want))
	for i, ref := range want {
		kg, _ := a.program.Graph(ref.Graph)
		if kg == nil {
			return nil, fmt.Errorf("input %d: unknown graph %q", i, ref.Graph)
		}
		p := kg.Parameter(ref.Name)
		if p == nil {
			return nil, fmt.Errorf("input %d: %s does not exist", i, ref)
		}

		t, err := a.decodeLiteral(ctx, p, a.config.Inputs[i], fmt.Sprintf("input %d", i))
		if err != nil {
			return nil, fmt.Errorf("input %d (%s): %w", i, ref, err)
		}
		out[i] = t
	}
	return out, nil
}

func (a *App) decodeLiteral(ctx context.Context, p *model.Parameter, literal, filename string) (*tensor.Tensor, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(literal), filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, diags
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	return frontend.DecodeTensor(ctx, a.converter, p.DType, p.Shape, val)
}

// parseFeeds turns the `name=literal` feed values into device queue
// batches. A name is a queue parameter, bare when that is unambiguous or
// qualified as graph.param. Every queue parameter needs the same number of
// values; batch i holds the i-th value of each.
func (a *App) parseFeeds(ctx context.Context, set *actorset.ActorSet) ([][]*tensor.Tensor, error) {
	if len(a.config.Feeds) == 0 {
		return nil, nil
	}
	src := set.QueueSource()
	if src == nil {
		return nil, fmt.Errorf("program %s has no queue inputs to feed", a.program.Name)
	}

	values := make([][]string, len(src.Params))
	for _, feed := range a.config.Feeds {
		name, literal, ok := strings.Cut(feed, "=")
		if !ok {
			return nil, fmt.Errorf("feed %q: want name=value", feed)
		}
		i, err := matchQueueParam(src.Params, strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("feed %q: %w", feed, err)
		}
		values[i] = append(values[i], literal)
	}

	n := len(values[0])
	for i, vs := range values {
		if len(vs) != n {
			return nil, fmt.Errorf("queue inputs need the same number of values: %s has %d, %s has %d",
				src.Params[0], n, src.Params[i], len(vs))
		}
	}

	batches := make([][]*tensor.Tensor, n)
	for b := range batches {
		batches[b] = make([]*tensor.Tensor, len(src.Params))
		for i, ref := range src.Params {
			kg, _ := a.program.Graph(ref.Graph)
			p := kg.Parameter(ref.Name)
			t, err := a.decodeLiteral(ctx, p, values[i][b], fmt.Sprintf("feed %s[%d]", ref.Name, b))
			if err != nil {
				return nil, fmt.Errorf("feed %d of %s: %w", b, ref, err)
			}
			batches[b][src.Positions[i]] = t
		}
	}
	return batches, nil
}

var errUnknownFeed = errors.New("no such queue input")

func matchQueueParam(params []model.Ref, name string) (int, error) {
	graph, param, qualified := strings.Cut(name, ".")
	if !qualified {
		param = name
	}
	found := -1
	for i, ref := range params {
		if ref.Name != param || (qualified && ref.Graph != graph) {
			continue
		}
		if found >= 0 {
			return -1, fmt.Errorf("%s is ambiguous, qualify it as graph.%s", name, name)
		}
		found = i
	}
	if found < 0 {
		return -1, fmt.Errorf("%w: %s", errUnknownFeed, name)
	}
	return found, nil
}
