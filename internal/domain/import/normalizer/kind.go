package normalizer

import (
	"strings"
	"sync"
	"unicode"

	"github.com/cloudflare/ahocorasick"
	"github.com/shopspring/decimal"

	"github.com/kamilgrymuza/csv2mt/internal/domain/statement"
)

// KindPattern maps description keywords to a transaction kind
type KindPattern struct {
	Kind     statement.Kind
	Keywords []string
}

// KindClassifier derives transaction kinds from amount sign and description
// keywords. Earlier patterns take precedence, so a "transfer fee" is a fee.
type KindClassifier struct {
	mu       sync.RWMutex
	patterns []KindPattern
	keywords []string
	kinds    []int // keyword index -> pattern index
	matcher  *ahocorasick.Matcher
}

// NewKindClassifier creates a classifier with multi-language bank keywords
func NewKindClassifier() *KindClassifier {
	c := &KindClassifier{patterns: defaultKindPatterns()}
	c.rebuild()
	return c
}

// AddKeywords registers extra keywords for kind. Keywords added for a kind
// that has no pattern yet get the lowest precedence.
func (c *KindClassifier) AddKeywords(kind statement.Kind, keywords ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.patterns {
		if c.patterns[i].Kind == kind {
			c.patterns[i].Keywords = append(c.patterns[i].Keywords, keywords...)
			c.rebuild()
			return
		}
	}
	c.patterns = append(c.patterns, KindPattern{Kind: kind, Keywords: keywords})
	c.rebuild()
}

// Classify returns the kind of a transaction. An explicit kind is kept when
// it agrees with the sign of amount; otherwise keywords are tried, and the
// sign decides when nothing else applies.
func (c *KindClassifier) Classify(description string, amount decimal.Decimal, explicit statement.Kind) statement.Kind {
	if explicit != "" && explicit != statement.KindOther && explicit.AgreesWith(amount) {
		return explicit
	}
	if kind := c.match(description); kind != "" && kind.AgreesWith(amount) {
		return kind
	}
	if amount.IsNegative() {
		return statement.KindDebit
	}
	return statement.KindCredit
}

func (c *KindClassifier) match(description string) statement.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.matcher.MatchThreadSafe([]byte(matchText(description)))
	if len(hits) == 0 {
		return ""
	}
	best := len(c.patterns)
	for _, h := range hits {
		if p := c.kinds[h]; p < best {
			best = p
		}
	}
	return c.patterns[best].Kind
}

// rebuild recompiles the matcher. Callers hold the write lock. Keywords
// must start at a word boundary, so "fee" does not match "coffee".
func (c *KindClassifier) rebuild() {
	seen := make(map[string]bool)
	c.keywords = nil
	c.kinds = nil
	for i, p := range c.patterns {
		for _, kw := range p.Keywords {
			key := strings.TrimRight(matchText(kw), " ")
			if seen[key] {
				continue
			}
			seen[key] = true
			c.keywords = append(c.keywords, key)
			c.kinds = append(c.kinds, i)
		}
	}
	c.matcher = ahocorasick.NewStringMatcher(c.keywords)
}

// matchText lower-cases s, turns everything but letters and digits into
// single spaces and pads it with a leading and trailing space.
func matchText(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}

// defaultKindPatterns returns keyword patterns for EU/US statements
func defaultKindPatterns() []KindPattern {
	return []KindPattern{
		{statement.KindFee, []string{
			"fee", "service charge", "commission",
			"opłata", "oplata", "prowizja",
			"gebühr", "gebuehr", "entgelt",
			"comissão", "comissao", "comisión", "comision",
		}},
		{statement.KindInterest, []string{
			"interest", "odsetki", "kapitalizacja",
			"zinsen", "juros", "intereses",
		}},
		{statement.KindTransfer, []string{
			"transfer", "przelew", "überweisung", "ueberweisung",
			"transferência", "transferencia", "sepa credit",
		}},
	}
}

// cleanDescription collapses whitespace and drops control characters
func cleanDescription(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(cleaned), " ")
}
