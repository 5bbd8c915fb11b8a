// Package policy holds the read-only mapping from action to abuse policy.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service"
	"github.com/turtacn/abuseguard/pkg/errors"
)

// Table is the process-wide policy table. It is built once at startup and never
// mutated afterwards.
type Table struct {
	policies map[models.Action]models.PolicyDefinition
}

var _ service.PolicyProvider = (*Table)(nil)

// NewTable validates defs and returns a Table. Every member of models.AllActions
// must have an entry, so a newly added action cannot silently fall through to
// "no policy".
func NewTable(defs map[models.Action]models.PolicyDefinition) (*Table, error) {
	var missing []string
	for _, action := range models.AllActions() {
		if _, ok := defs[action]; !ok {
			missing = append(missing, string(action))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: no policy for actions %s", errors.ErrInvalidPolicy, strings.Join(missing, ", "))
	}

	policies := make(map[models.Action]models.PolicyDefinition, len(defs))
	for action, def := range defs {
		if _, known := models.ParseAction(string(action)); !known {
			return nil, fmt.Errorf("%w: unknown action %q", errors.ErrInvalidPolicy, action)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("action %s: %w", action, err)
		}
		policies[action] = copyDefinition(def)
	}
	return &Table{policies: policies}, nil
}

// DefaultTable returns the built-in table. It panics if Defaults is inconsistent,
// which is a programming error caught by the package tests.
func DefaultTable() *Table {
	t, err := NewTable(Defaults())
	if err != nil {
		panic(err)
	}
	return t
}

// Load builds the table from the defaults and, when path is not empty, the YAML
// overrides stored there.
func Load(path string) (*Table, error) {
	defs := Defaults()
	if path != "" {
		overrides, err := LoadOverrides(path)
		if err != nil {
			return nil, err
		}
		defs = Merge(defs, overrides)
	}
	return NewTable(defs)
}

// Lookup returns the policy of action.
func (t *Table) Lookup(action models.Action) (models.PolicyDefinition, bool) {
	def, ok := t.policies[action]
	return def, ok
}

// Actions returns every action in the table, sorted by name.
func (t *Table) Actions() []models.Action {
	out := make([]models.Action, 0, len(t.policies))
	for a := range t.policies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadOverrides reads per-action definitions from a YAML file of the form
//
//	post_create:
//	  rules:
//	    - {keyBy: userId, windowSec: 3600, softLimit: 3, hardLimit: 6}
//	  dedup: {windowSec: 600}
func LoadOverrides(path string) (map[models.Action]models.PolicyDefinition, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var raw map[string]models.PolicyDefinition
	if err := yaml.Unmarshal(file, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy file: %w", err)
	}

	out := make(map[models.Action]models.PolicyDefinition, len(raw))
	for name, def := range raw {
		action, ok := models.ParseAction(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown action %q in %s", errors.ErrInvalidPolicy, name, path)
		}
		out[action] = def
	}
	return out, nil
}

// Merge returns base with whole definitions replaced by overrides.
func Merge(base, overrides map[models.Action]models.PolicyDefinition) map[models.Action]models.PolicyDefinition {
	out := make(map[models.Action]models.PolicyDefinition, len(base))
	for a, def := range base {
		out[a] = def
	}
	for a, def := range overrides {
		out[a] = def
	}
	return out
}

func copyDefinition(def models.PolicyDefinition) models.PolicyDefinition {
	out := models.PolicyDefinition{Rules: append([]models.PolicyRule(nil), def.Rules...)}
	if def.Dedup != nil {
		d := *def.Dedup
		out.Dedup = &d
	}
	return out
}
