package app

import (
	"context"

	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/hcl"
	"github.com/vk/flowgrid/internal/yamlcfg"
)

// formatLoader loads every supported graph file format and merges the
// results. Each format loader only picks up its own extensions.
type formatLoader struct {
	loaders []config.Loader
}

// NewLoader returns the loader used by the application: HCL and YAML.
func NewLoader() config.Loader {
	return &formatLoader{loaders: []config.Loader{hcl.NewLoader(), yamlcfg.NewLoader()}}
}

func (l *formatLoader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	merged := &config.Model{}
	var conv config.Converter
	for _, loader := range l.loaders {
		m, c, err := loader.Load(ctx, paths...)
		if err != nil {
			return nil, nil, err
		}
		if err := merged.Merge(m); err != nil {
			return nil, nil, err
		}
		if conv == nil {
			conv = c
		}
	}
	return merged, conv, nil
}
