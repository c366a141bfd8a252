// Package dag holds the dependency graph of a pipeline. It only knows about
// node names and edges; running the nodes is the job of package executor.
//
// Graphs are validated before anything runs: an edge that points at an
// undeclared node or a cycle is reported as an *InvalidGraphError.
package dag
