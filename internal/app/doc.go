// Package app contains the core application logic. It wires the loaded
// pipeline to providers, the state store, metrics and the executor, and
// implements the up, down, validate and outputs lifecycles independently of
// the CLI that drives them.
package app
