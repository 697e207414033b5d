// Package banks reads the fixed CSV exports of individual banks without the
// understanding service. Each bank template is selected by name.
package banks

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/import/parser"
	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// Parser reads one bank's export into an extraction in canonical form.
type Parser interface {
	Name() string
	Parse(lines []string) (*statement.Extraction, error)
}

// Registry holds bank parsers keyed by lower-case name. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates a registry holding parsers.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Default returns a registry with every built-in bank template.
func Default() *Registry {
	return NewRegistry(Santander{}, MBank{})
}

// Register adds p, replacing a parser of the same name.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[key(p.Name())] = p
}

// Get returns the parser for name, ignoring case.
func (r *Registry) Get(name string) (Parser, error) {
	r.mu.RLock()
	p, ok := r.parsers[key(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", statement.ErrUnknownBank, name, strings.Join(r.Supported(), ", "))
	}
	return p, nil
}

// Supported lists the registered names in lower case, sorted.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// amount reads a bank amount with a comma or dot decimal separator and
// returns it in canonical dot form.
func amount(s string) (string, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", err
	}
	return d.StringFixed(2), nil
}

// isoDate rewrites value from pattern to YYYY-MM-DD.
func isoDate(value, pattern string) (string, error) {
	t, err := parser.ParseDate(strings.TrimSpace(value), pattern)
	if err != nil {
		return "", err
	}
	return t.Format(parser.ISODate), nil
}

func invalid(bank string, row int, field, value string, err error) error {
	return &statement.ValidationError{
		Field:  field,
		Row:    row,
		Value:  value,
		Reason: fmt.Sprintf("%s export: %v", bank, err),
	}
}
