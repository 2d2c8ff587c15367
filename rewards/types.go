/*
Package rewards turns waste drop-offs into points and points into rewards.

PURPOSE:
  The thin collaborators around the points engine:
  - Self-service scan: pick a waste category, issue a pre-funded code
  - Code generation:   issue a zero-value code for a partner to redeem
  - Catalog:           list rewards, spend points on one

CATEGORY TABLE:
  Each category carries the points a scan awards and a selection weight.
  The default table ships in categories.yaml; REWARDS_TABLE_PATH points at an
  operator-supplied replacement with the same shape.

    categories:
      - name: Smartphone
        points: 150
        weight: 1

EXAMPLE FLOW:
  1. User scans an item: category "Laptop" drawn, code AI-... issued for 320
  2. User asks for a drop-off code: QR-... issued, ISSUED, 0 points
  3. Partner redeems QR-...: +50 to the user, +50 to the partner
  4. User buys "Solar Charger" (320): balance 370 - 320 = 50

SEE ALSO:
  - factory.go:  table loading
  - selector.go: category selection
  - service.go:  the operations
*/
package rewards

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// CATEGORY TABLE
// =============================================================================

// Category is one kind of e-waste a scan can be credited for.
type Category struct {
	Name   string `yaml:"name"`
	Points int64  `yaml:"points"`
	Weight int    `yaml:"weight"`
}

// CategoryTable is the set of categories a scan draws from.
type CategoryTable struct {
	Categories []Category `yaml:"categories"`
}

// ErrInvalidTable is returned when a category table fails validation.
var ErrInvalidTable = errors.New("invalid category table")

// Validate checks that the table is usable for weighted selection.
func (t CategoryTable) Validate() error {
	if len(t.Categories) == 0 {
		return errors.Wrap(ErrInvalidTable, "no categories")
	}
	seen := make(map[string]bool, len(t.Categories))
	for i, c := range t.Categories {
		name := strings.TrimSpace(c.Name)
		switch {
		case name == "":
			return errors.Wrapf(ErrInvalidTable, "category %d: name is required", i)
		case seen[name]:
			return errors.Wrapf(ErrInvalidTable, "category %q listed twice", name)
		case c.Points <= 0:
			return errors.Wrapf(ErrInvalidTable, "category %q: points must be > 0", name)
		case c.Weight <= 0:
			return errors.Wrapf(ErrInvalidTable, "category %q: weight must be > 0", name)
		}
		seen[name] = true
	}
	return nil
}

// TotalWeight is the sum of all category weights.
func (t CategoryTable) TotalWeight() int {
	total := 0
	for _, c := range t.Categories {
		total += c.Weight
	}
	return total
}

// Lookup finds a category by name.
func (t CategoryTable) Lookup(name string) (Category, bool) {
	for _, c := range t.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}
