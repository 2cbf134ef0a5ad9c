// Package apps lists the application modules compiled into owinhost.
package apps

import (
	"github.com/mattjoyce/owinhost/internal/apps/hello"
	"github.com/mattjoyce/owinhost/internal/module"
)

// Builtin returns every compiled-in module.
func Builtin() []module.Module {
	return []module.Module{
		hello.Module{},
		hello.SamplesModule{},
	}
}
