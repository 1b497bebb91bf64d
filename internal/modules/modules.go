package modules

import (
	"github.com/kingrea/fieldops/internal/module"
	"github.com/kingrea/fieldops/internal/modules/expense"
	"github.com/kingrea/fieldops/internal/modules/labour"
	"github.com/kingrea/fieldops/internal/modules/material"
	"github.com/kingrea/fieldops/internal/modules/work"
)

// RegisterBuiltins installs all of the built-in field domains into the
// provided registry, in menu order.
func RegisterBuiltins(reg *module.Registry) {
	if reg == nil {
		return
	}
	work.Register(reg)
	material.Register(reg)
	labour.Register(reg)
	expense.Register(reg)
}
