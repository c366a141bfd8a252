package app

import (
	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/modules/hcloud"
	"github.com/specialistvlad/remotebox/modules/static"
)

// Version is reported to cloud APIs in the user agent.
var Version = "dev"

// coreModules is the definitive list of all provider modules that are
// compiled into the remotebox binary.
func coreModules() []registry.Module {
	return []registry.Module{
		&hcloud.Module{Version: Version},
		&static.Module{},
	}
}
