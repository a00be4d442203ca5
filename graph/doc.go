// Package graph holds the Task Graph: nodes produced by the planner, their
// dependency edges and lifecycle status. The graph is owned by a single
// scheduler goroutine; workers only ever see a NodeSpec copy and a View
// restricted to the outputs of the node's declared dependencies.
package graph
