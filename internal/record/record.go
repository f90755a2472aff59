// Package record defines the harvested item type and the text cleaning rules
// that keep its values safe for delimited output.
package record

import (
	"fmt"
	"strings"
)

// Field names one attribute of a Record. The string value doubles as the
// column header in the sink.
type Field string

// Known record attributes.
const (
	FieldID         Field = "tweet_id"
	FieldAuthorName Field = "account_name"
	FieldAuthorID   Field = "user_id"
	FieldTimestamp  Field = "timestamp"
	FieldText       Field = "text"
	FieldLinks      Field = "links"
	FieldReplies    Field = "replies"
	FieldRetweets   Field = "retweets"
	FieldFavorites  Field = "favorites"
)

const defaultDelimiter = ','

// AllFields lists every attribute in the default column order.
var AllFields = []Field{
	FieldID,
	FieldAuthorName,
	FieldAuthorID,
	FieldTimestamp,
	FieldText,
	FieldLinks,
	FieldReplies,
	FieldRetweets,
	FieldFavorites,
}

// ParseFields converts configured names into Fields, rejecting unknown or
// repeated names.
func ParseFields(names []string) ([]Field, error) {
	known := make(map[Field]struct{}, len(AllFields))
	for _, f := range AllFields {
		known[f] = struct{}{}
	}
	out := make([]Field, 0, len(names))
	seen := make(map[Field]struct{}, len(names))
	for _, name := range names {
		f := Field(strings.TrimSpace(name))
		if _, ok := known[f]; !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// Record is one harvested item. The zero value has no attributes set. A
// Record is immutable; build one with a Builder.
type Record struct {
	values map[Field]string
	links  []string
	// hasLinks separates "no link container" from "container without links".
	hasLinks bool
}

// Lookup returns the scalar value of f and whether it is present. Links are
// reported through Links.
func (r Record) Lookup(f Field) (string, bool) {
	if f == FieldLinks {
		return "", false
	}
	v, ok := r.values[f]
	return v, ok
}

// Links returns a copy of the record's links in first-seen order and whether
// the attribute is present.
func (r Record) Links() ([]string, bool) {
	if !r.hasLinks {
		return nil, false
	}
	return append([]string(nil), r.links...), true
}

// Has reports whether f is present on the record.
func (r Record) Has(f Field) bool {
	if f == FieldLinks {
		return r.hasLinks
	}
	_, ok := r.values[f]
	return ok
}

// String renders the record for debug logs.
func (r Record) String() string {
	var b strings.Builder
	b.WriteString("{")
	first := true
	for _, f := range AllFields {
		if !r.Has(f) {
			continue
		}
		if !first {
			b.WriteString(" ")
		}
		first = false
		b.WriteString(string(f))
		b.WriteString("=")
		if f == FieldLinks {
			fmt.Fprintf(&b, "%q", r.links)
			continue
		}
		fmt.Fprintf(&b, "%q", r.values[f])
	}
	b.WriteString("}")
	return b.String()
}

// Builder accumulates attributes for a single Record.
type Builder struct {
	values   map[Field]string
	links    []string
	seen     map[string]struct{}
	hasLinks bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		values: make(map[Field]string),
		seen:   make(map[string]struct{}),
	}
}

// Set stores a scalar attribute. Setting FieldLinks is a no-op; use AddLink.
func (b *Builder) Set(f Field, value string) *Builder {
	if f == FieldLinks {
		return b
	}
	b.values[f] = value
	return b
}

// MarkLinks makes the links attribute present even if no link is added.
func (b *Builder) MarkLinks() *Builder {
	b.hasLinks = true
	return b
}

// AddLink appends url unless it is already present. It reports whether the
// link was added.
func (b *Builder) AddLink(url string) bool {
	b.hasLinks = true
	if _, ok := b.seen[url]; ok {
		return false
	}
	b.seen[url] = struct{}{}
	b.links = append(b.links, url)
	return true
}

// Build returns an immutable snapshot of the accumulated attributes. The
// Builder may keep being used afterwards without affecting the result.
func (b *Builder) Build() Record {
	values := make(map[Field]string, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return Record{
		values:   values,
		links:    append([]string(nil), b.links...),
		hasLinks: b.hasLinks,
	}
}

// Clean replaces newline characters and the delimiter with a single space.
// Clean(Clean(s, d), d) == Clean(s, d) for every s.
func Clean(s string, delimiter rune) string {
	if delimiter == 0 {
		delimiter = defaultDelimiter
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', delimiter:
			return ' '
		}
		return r
	}, s)
}
