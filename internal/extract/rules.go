package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// Locator narrows an item container to the nodes one attribute is read from.
// An empty or nil selection leaves the attribute absent.
type Locator func(container *goquery.Selection) *goquery.Selection

// Reader turns located nodes into a scalar value. ok=false leaves the
// attribute absent.
type Reader func(sel *goquery.Selection) (value string, ok bool)

// MultiReader turns located nodes into an ordered list of values. It is only
// used for record.FieldLinks.
type MultiReader func(sel *goquery.Selection) (values []string, ok bool)

// Rule binds one record attribute to the way it is found and read. Rules are
// evaluated independently; a failing rule only loses its own attribute.
type Rule struct {
	Field   record.Field
	Locate  Locator
	Read    Reader
	ReadAll MultiReader
}

// Self locates the container itself.
func Self() Locator {
	return func(container *goquery.Selection) *goquery.Selection {
		return container
	}
}

// Find locates descendants of the container matching selector.
func Find(selector string) Locator {
	return func(container *goquery.Selection) *goquery.Selection {
		return container.Find(selector)
	}
}

// Attr reads the named attribute of the first located node.
func Attr(name string) Reader {
	return func(sel *goquery.Selection) (string, bool) {
		return sel.First().Attr(name)
	}
}

// NestedAttr reads the named attribute from the first descendant of the
// located nodes that carries it.
func NestedAttr(name string) Reader {
	return func(sel *goquery.Selection) (string, bool) {
		return sel.Find("[" + name + "]").First().Attr(name)
	}
}

// Text reads the whitespace-trimmed text of the first located node.
func Text() Reader {
	return func(sel *goquery.Selection) (string, bool) {
		return strings.TrimSpace(sel.First().Text()), true
	}
}

// AttrList collects the named attribute from every descendant of the located
// nodes that matches selector and carries the attribute, in document order.
func AttrList(selector, name string) MultiReader {
	return func(sel *goquery.Selection) ([]string, bool) {
		var out []string
		sel.Find(selector+"["+name+"]").Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(name); ok && v != "" {
				out = append(out, v)
			}
		})
		return out, true
	}
}

const (
	contentSel   = ".content"
	textBlockSel = contentSel + " .js-tweet-text-container"
	footerSel    = contentSel + " .stream-item-footer"
	statCount    = "data-tweet-stat-count"
)

// DefaultItemSelector matches one harvested item in a timeline fragment.
const DefaultItemSelector = "li.stream-item"

// DefaultRules returns the rule set for timeline search fragments.
func DefaultRules() []Rule {
	return []Rule{
		{Field: record.FieldID, Locate: Self(), Read: Attr("data-tweet-id")},
		{Field: record.FieldAuthorName, Locate: Self(), Read: Attr("data-name")},
		{Field: record.FieldAuthorID, Locate: Self(), Read: Attr("data-user-id")},
		{
			Field:  record.FieldTimestamp,
			Locate: Find(contentSel + " .stream-item-header .tweet-timestamp"),
			Read:   Attr("title"),
		},
		{Field: record.FieldText, Locate: Find(textBlockSel + " .tweet-text"), Read: Text()},
		{
			Field:   record.FieldLinks,
			Locate:  Find(textBlockSel),
			ReadAll: AttrList(".twitter-timeline-link", "data-expanded-url"),
		},
		{Field: record.FieldReplies, Locate: Find(footerSel + " .ProfileTweet-action--reply"), Read: NestedAttr(statCount)},
		{Field: record.FieldRetweets, Locate: Find(footerSel + " .ProfileTweet-action--retweet"), Read: NestedAttr(statCount)},
		{Field: record.FieldFavorites, Locate: Find(footerSel + " .ProfileTweet-action--favorite"), Read: NestedAttr(statCount)},
	}
}

