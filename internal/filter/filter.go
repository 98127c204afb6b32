// Package filter parses price and stock constraints from free text and
// applies them to product lists.
package filter

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/cartbot/internal/catalog"
)

// PriceFilter bounds are inclusive; a nil bound is open.
type PriceFilter struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// Active reports whether at least one bound is set.
func (f PriceFilter) Active() bool { return f.Min != nil || f.Max != nil }

// Contains reports whether price lies within the bounds.
func (f PriceFilter) Contains(price float64) bool {
	if f.Min != nil && price < *f.Min {
		return false
	}
	if f.Max != nil && price > *f.Max {
		return false
	}
	return true
}

// Status is a stock/sale constraint. Only one applies at a time.
type Status string

const (
	StatusNone       Status = "none"
	StatusInStock    Status = "in_stock"
	StatusOutOfStock Status = "out_of_stock"
	StatusOnSale     Status = "on_sale"
)

// amount matches a numeral with an optional unit. "k" must be attached to
// the digits so that words starting with k are not read as a unit.
const amount = `(\d[\d.,]*)(?:(k)\b|\s*(nghìn|ngàn|triệu))?`

type pricePattern struct {
	re   *regexp.Regexp
	kind boundKind
}

type boundKind int

const (
	boundRange boundKind = iota
	boundMax
	boundMin
)

// lead anchors a keyword at the start of a word. Go's \b only knows
// ASCII letters, so Vietnamese keywords need an explicit letter class.
const lead = `(?:^|[^\p{L}\d])`

// pricePatterns are tried in order; ranges first so that "từ X đến Y"
// is not read as a lower bound.
var pricePatterns = []pricePattern{
	{regexp.MustCompile(`(?i)` + lead + `(?:từ|from|between)\s*` + amount + `\s*(?:đến|tới|to|and|-)\s*` + amount), boundRange},
	{regexp.MustCompile(`(?i)` + amount + `\s*-\s*` + amount), boundRange},
	{regexp.MustCompile(`(?i)` + lead + `(?:dưới|under|below|less than|cheaper than|lower than|nhỏ hơn|ít hơn|rẻ hơn|thấp hơn|không vượt quá|không quá|tối đa|max)\s*` + amount), boundMax},
	{regexp.MustCompile(`(?i)` + lead + `(?:trên|over|above|more than|lớn hơn|cao hơn|nhiều hơn|đắt hơn|từ|tối thiểu|min)\s*` + amount), boundMin},
}

// ParsePrice extracts a price range from text. Unrecognized or
// unparsable input yields an inactive filter.
func ParsePrice(text string) PriceFilter {
	lower := strings.ToLower(text)
	for _, p := range pricePatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		switch p.kind {
		case boundRange:
			lo, okLo := parseAmount(m[1], m[2], m[3])
			hi, okHi := parseAmount(m[4], m[5], m[6])
			if !okLo || !okHi {
				return PriceFilter{}
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			return PriceFilter{Min: &lo, Max: &hi}
		case boundMax:
			if v, ok := parseAmount(m[1], m[2], m[3]); ok {
				return PriceFilter{Max: &v}
			}
			return PriceFilter{}
		case boundMin:
			if v, ok := parseAmount(m[1], m[2], m[3]); ok {
				return PriceFilter{Min: &v}
			}
			return PriceFilter{}
		}
	}
	return PriceFilter{}
}

// decimal matches "1.5" or "2,25": one separator followed by one or two
// digits, read as a decimal point when a unit follows.
var decimal = regexp.MustCompile(`^\d+[.,]\d{1,2}$`)

// parseAmount strips thousands separators and applies the unit multiplier.
func parseAmount(num, k, word string) (float64, bool) {
	num = strings.TrimRight(num, ".,")
	var digits string
	if (k != "" || word != "") && decimal.MatchString(num) {
		digits = strings.Replace(num, ",", ".", 1)
	} else {
		digits = strings.NewReplacer(".", "", ",", "").Replace(num)
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case k != "", word == "nghìn", word == "ngàn":
		v *= 1000
	case word == "triệu":
		v *= 1_000_000
	}
	return v, true
}

type statusRule struct {
	status   Status
	keywords []string
}

// statusRules is ordered: out-of-stock phrases precede in-stock ones
// because "không còn hàng" contains "còn hàng".
var statusRules = []statusRule{
	{StatusOutOfStock, []string{"hết hàng", "không còn hàng", "out of stock", "sold out", "tạm hết"}},
	{StatusInStock, []string{"còn hàng", "có sẵn", "in stock", "available", "sẵn hàng"}},
	{StatusOnSale, []string{"giảm giá", "khuyến mãi", "đang sale", "on sale", "discount", "sale off"}},
}

// ParseStatus returns the first status whose keywords appear in text.
func ParseStatus(text string) Status {
	lower := strings.ToLower(text)
	for _, r := range statusRules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.status
			}
		}
	}
	return StatusNone
}

// Apply returns the products matching both filters. If the filters would
// remove every product of a non-empty list, they are discarded and the
// input is returned unchanged.
func Apply(products []catalog.Product, price PriceFilter, status Status) []catalog.Product {
	if len(products) == 0 || (!price.Active() && (status == StatusNone || status == "")) {
		return products
	}

	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if matchesPrice(p, price) && matchesStatus(p, status) {
			out = append(out, p)
		}
	}

	if len(out) == 0 {
		slog.Debug("filters matched no products, returning unfiltered list",
			"products", len(products), "status", status)
		return products
	}
	return out
}

func matchesPrice(p catalog.Product, f PriceFilter) bool {
	if !f.Active() {
		return true
	}
	price, ok := p.ResolvedPrice()
	if !ok {
		return false
	}
	return f.Contains(price)
}

func matchesStatus(p catalog.Product, s Status) bool {
	switch s {
	case StatusInStock:
		return p.Stock != nil && *p.Stock > 0
	case StatusOutOfStock:
		return p.Stock != nil && *p.Stock == 0
	case StatusOnSale:
		return p.OnSale()
	default:
		return true
	}
}
