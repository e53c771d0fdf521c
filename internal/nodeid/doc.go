// internal/nodeid/doc.go

/*
Package nodeid parses the references graph files use to point at values:
dot-separated paths such as `param.x`, `kernel.mul[1]`,
`graph.main.param.x` or `graph.main.kernel.relu[0]`.

Parse turns a raw string into a generic Address; ParseRef goes one step
further and checks it against the reference grammar, producing a
model.Ref. Both round-trip through their String methods.
*/
package nodeid
