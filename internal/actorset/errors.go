package actorset

import (
	"errors"
	"fmt"
)

// ErrNoInput is returned by a data source whose queue holds no batch.
var ErrNoInput = errors.New("input queue is empty")

// KernelError reports a kernel launch failure together with the kernel
// actor's name.
type KernelError struct {
	Kernel string
	Err    error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel %s failed: %v", e.Kernel, e.Err)
}

func (e *KernelError) Unwrap() error { return e.Err }
