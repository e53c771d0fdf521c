package app

import (
	"github.com/vk/flowgrid/internal/registry"
	"github.com/vk/flowgrid/modules/collective"
	"github.com/vk/flowgrid/modules/fault"
	"github.com/vk/flowgrid/modules/math"
	"github.com/vk/flowgrid/modules/state"
)

// coreModules is the definitive list of all kernel modules compiled into
// the flowgrid binary.
var coreModules = []registry.Module{
	&math.Module{},
	&state.Module{},
	&collective.Module{},
	&fault.Module{},
}
