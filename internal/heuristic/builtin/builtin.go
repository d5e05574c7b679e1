// Package builtin collects the heuristics compiled into hashget.
package builtin

import (
	"github.com/hashget/hashget/internal/heuristic"
	"github.com/hashget/hashget/internal/heuristic/debian"
	"github.com/hashget/hashget/internal/heuristic/hint"
	"github.com/hashget/hashget/internal/heuristic/kernel"
)

// DefaultHeuristics are enabled unless configured otherwise.
var DefaultHeuristics = []string{"all"}

// Registry returns all built-in heuristics.
func Registry() heuristic.Registry {
	return heuristic.Registry{
		"debian":     debian.New,
		"hint":       hint.New,
		"kernel":     kernel.New,
		"kernelmake": kernel.NewMakefile,
	}
}
