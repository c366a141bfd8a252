// Package registry provides the central "glue" for the provider module system.
//
// The Registry maps the provider names and resource kinds used in pipeline
// files (e.g. `provider "hcloud"`, `resource "hcloud_server" ...`) to the
// compiled Go factories that implement them. Modules add themselves at
// startup; providers are configured from their pipeline blocks before the
// run starts.
package registry
