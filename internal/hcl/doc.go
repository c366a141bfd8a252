// Package hcl provides the concrete HCL implementation of the pipeline
// loader defined in the `config` package, together with the evaluation
// scope used to resolve expressions against upstream node outputs.
//
// Parsing is done once at load time. Expressions stay unevaluated in the
// model until the node that owns them runs, at which point every node it
// references has finished and published its outputs to the Scope.
package hcl
