// Package assets provides embedded static files for the application.
// Using Go's embed package allows for single-binary deployment without
// external file dependencies.
package assets

import (
	"embed"
	"io/fs"
)

// Budgets embeds the built-in performance budget templates
// (default/ecommerce/corporate/blog). internal/config's BudgetManager
// loads these as the baseline, then overlays an external file when one is
// configured.
//
//go:embed budgets/*.yaml
var Budgets embed.FS

// ReadBudget returns the raw YAML content of a built-in budget template.
func ReadBudget(name string) ([]byte, error) {
	return fs.ReadFile(Budgets, "budgets/"+name+".yaml")
}

// BudgetNames lists the built-in template names in a fixed order.
var BudgetNames = []string{"default", "ecommerce", "corporate", "blog"}
