package config

import "context"

// Loader turns pipeline files into a Model. Paths may name single files or
// directories; the HCL implementation lives in internal/hcl and tests may
// supply their own.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}
