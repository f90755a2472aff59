// Package extract converts a timeline page's markup fragment into records.
//
// Every attribute is read by its own Rule. A rule that finds nothing, reads
// nothing, or panics leaves only its attribute absent; the rest of the item
// and the rest of the page are still extracted.
package extract

import (
	"fmt"
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// Extractor turns page fragments into lazy record sequences. It holds no
// per-page state and is safe for concurrent use.
type Extractor struct {
	itemSelector string
	rules        []Rule
	delimiter    rune
	logger       *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithItemSelector overrides the selector that identifies one item.
func WithItemSelector(selector string) Option {
	return func(e *Extractor) {
		e.itemSelector = selector
	}
}

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option {
	return func(e *Extractor) {
		e.rules = append([]Rule(nil), rules...)
	}
}

// WithDelimiter sets the output delimiter stripped from scalar values.
func WithDelimiter(delimiter rune) Option {
	return func(e *Extractor) {
		e.delimiter = delimiter
	}
}

// WithLogger attaches a logger for recovered rule failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Extractor. It fails only when the item selector does not
// compile.
func New(opts ...Option) (*Extractor, error) {
	e := &Extractor{
		itemSelector: DefaultItemSelector,
		rules:        DefaultRules(),
		delimiter:    ',',
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if strings.TrimSpace(e.itemSelector) == "" {
		return nil, fmt.Errorf("item selector is required")
	}
	if _, err := cascadia.Compile(e.itemSelector); err != nil {
		return nil, fmt.Errorf("compile item selector %q: %w", e.itemSelector, err)
	}
	return e, nil
}

// Extract returns the records found in fragment. Parsing happens when the
// sequence is iterated, and iterating again parses again. The sequence never
// panics, whatever the fragment contains.
func (e *Extractor) Extract(fragment string) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		items, ok := e.items(fragment)
		if !ok {
			return
		}
		for i := range items.Length() {
			if !yield(e.Item(items.Eq(i))) {
				return
			}
		}
	}
}

func (e *Extractor) items(fragment string) (items *goquery.Selection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("fragment parse panicked", zap.Any("panic", r))
			items, ok = nil, false
		}
	}()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		e.logger.Warn("fragment parse failed", zap.Error(err))
		return nil, false
	}
	return doc.Find(e.itemSelector), true
}

// Item extracts a single item. Items without a usable container still yield
// a record, possibly with no attributes at all.
func (e *Extractor) Item(item *goquery.Selection) (rec record.Record) {
	b := record.NewBuilder()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("item extraction panicked", zap.Any("panic", r))
			rec = b.Build()
		}
	}()
	container := containerOf(item)
	for _, rule := range e.rules {
		e.apply(rule, container, b)
	}
	return b.Build()
}

// containerOf returns the element carrying the item's identity attributes:
// the first element child, or the item itself when it has none.
func containerOf(item *goquery.Selection) *goquery.Selection {
	if first := item.Children().First(); first.Length() > 0 {
		return first
	}
	return item
}

func (e *Extractor) apply(rule Rule, container *goquery.Selection, b *record.Builder) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("field rule panicked",
				zap.String("field", string(rule.Field)),
				zap.Any("panic", r),
			)
		}
	}()
	if rule.Locate == nil {
		return
	}
	sel := rule.Locate(container)
	if sel == nil || sel.Length() == 0 {
		return
	}
	if rule.Field == record.FieldLinks {
		if rule.ReadAll == nil {
			return
		}
		links, ok := rule.ReadAll(sel)
		if !ok {
			return
		}
		b.MarkLinks()
		for _, link := range links {
			b.AddLink(link)
		}
		return
	}
	if rule.Read == nil {
		return
	}
	if v, ok := rule.Read(sel); ok {
		b.Set(rule.Field, record.Clean(v, e.delimiter))
	}
}
