// Package registry maps kernel type names, as written in graph files, to the
// compiled Go kernels that implement them.
//
// Modules register their kernels at startup. The front end then asks the
// registry to infer output shapes and the builder asks it to bind every
// kernel of a program to a launchable device.KernelMod. Validate checks that
// a whole program can be bound before anything is allocated.
package registry
