// Package worker contains the specialized executors of Task Graph nodes.
//
// A worker receives a copy of its node and a View restricted to the outputs
// of the node's declared dependencies. Workers call tools through the
// registry, append to the evidence store and return a result; they never
// call each other and never touch graph state.
package worker
