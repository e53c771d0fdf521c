// Package dag is a small, concurrency-safe directed graph used to validate
// that the data arrows of an ActorSet form an acyclic graph and to derive a
// deterministic topological order from them. Nodes are identified by any
// ordered key type; the builder uses actor handles.
package dag
