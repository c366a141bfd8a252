// Package config defines the format-agnostic model of a bring-up pipeline,
// along with the Loader interface that concrete formats implement.
//
// The `config.Model` is the single source of truth for the `pipeline`
// package, which compiles it into executable tasks. The HCL implementation
// lives in `internal/hcl`.
package config
