package loader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/owinhost/internal/module"
)

// hit pairs the longest candidate name with a module it may live in.
type hit struct {
	name  string
	table *module.Table
}

// probe yields candidate modules for configuration lazily: yield returning
// false stops probing before further modules are loaded. Missing modules are
// skipped; any other load failure aborts.
func probe(l module.Loader, configuration string, yield func(hit) bool) error {
	if name, moduleName, ok := strings.Cut(configuration, ","); ok {
		candidate := first(DotByDot(name))
		t, err := tryLoad(l, strings.TrimSpace(moduleName))
		if err != nil || t == nil {
			return err
		}
		yield(hit{name: candidate, table: t})
		return nil
	}

	candidate := first(DotByDot(configuration))
	prefixes := DotByDot(candidate)
	if len(prefixes) < 2 {
		return nil
	}
	for _, moduleName := range prefixes[1:] {
		t, err := tryLoad(l, moduleName)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}
		if !yield(hit{name: candidate, table: t}) {
			return nil
		}
	}
	return nil
}

func tryLoad(l module.Loader, name string) (*module.Table, error) {
	t, err := l.Load(name)
	if err != nil {
		if errors.Is(err, module.ErrModuleNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load module %q: %w", name, err)
	}
	return t, nil
}
