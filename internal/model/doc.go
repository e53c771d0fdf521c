// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model is the compiled program handed to the graph scheduler. It is
// produced once by the front end and is read-only afterwards.
//
// # Core Concepts
//
//   - GraphCompilerInfo: the whole program. It bundles the kernel graphs, the
//     device context each graph runs on, the control nodes joining graphs, the
//     order of the program's host inputs and outputs, and the run strategy.
//
//   - KernelGraph: one graph of kernels on one device. Kernels are listed in
//     execution order; parameters are the graph's leaves (host inputs, queue
//     inputs, weights, constants, or internal parameters fed by another graph).
//
//   - Switch and Gather: control nodes. A switch picks one of two graphs from a
//     boolean condition, a gather always calls its graph once its inputs are in.
//     Graphs targeted by a control node are branch graphs; all others are root
//     graphs and run on every step.
//
//   - Ref: an address of a value inside the program, such as the second output
//     of a kernel or a parameter of a given graph.
package model
