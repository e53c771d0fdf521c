// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the primary execution lifecycle: load the
// graph files, compile the program, then run it through the scheduler while
// an optional health check server reports liveness. It is decoupled from any
// specific entrypoint like a CLI or server.
package app
