// Package intent classifies shopping messages with keyword tables.
package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Intent is a coarse category of what a message asks about.
type Intent string

const (
	Product    Intent = "product"
	Shop       Intent = "shop"
	FlashSale  Intent = "flash_sale"
	Greeting   Intent = "greeting"
	OutOfScope Intent = "out_of_scope"
)

// RefusalMessage is returned verbatim for out-of-scope messages.
const RefusalMessage = "Xin lỗi, tôi chỉ có thể hỗ trợ các câu hỏi liên quan đến mua sắm trên StreamCart " +
	"như sản phẩm, cửa hàng, flash sale và chính sách mua bán. Bạn cần tìm gì hôm nay?"

// GreetingMessage answers a bare greeting without a model call.
const GreetingMessage = "Xin chào! Tôi là trợ lý AI của StreamCart, sẵn sàng hỗ trợ. Bạn cần giúp gì hôm nay?"

// Rule maps one intent to the keywords that trigger it.
type Rule struct {
	Intent   Intent
	Keywords []string
}

// DefaultRules returns the production keyword table. Keywords are lower-case.
func DefaultRules() []Rule {
	return []Rule{
		{OutOfScope, []string{
			"thời tiết", "weather", "bóng đá", "football", "chính trị", "politics",
			"chứng khoán", "stock market", "bitcoin", "xổ số", "lottery",
			"tin tức", "news", "công thức nấu", "recipe", "bài tập", "homework", "viết code",
		}},
		{Product, []string{
			"sản phẩm", "mua", "giá", "product", "products", "price",
			"tìm kiếm", "tìm", "search", "còn hàng", "hết hàng", "món",
		}},
		{Shop, []string{
			"cửa hàng", "shop", "shops", "store", "bán hàng", "gian hàng", "địa chỉ",
		}},
		{FlashSale, []string{
			"flash sale", "flashsale", "flash-sale", "giờ vàng", "săn sale", "deal sốc",
		}},
		{Greeting, []string{
			"xin chào", "chào", "hello", "hi", "hey", "alo", "bạn khỏe không", "how are you",
		}},
	}
}

// Set is the list of intents that fired, in rule-table order.
type Set []Intent

// Has reports whether i is in the set.
func (s Set) Has(i Intent) bool {
	for _, v := range s {
		if v == i {
			return true
		}
	}
	return false
}

// Classifier tests every rule independently; intents are not exclusive.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a Classifier over rules. A nil table uses DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns every intent with at least one keyword present in text.
func (c *Classifier) Classify(text string) Set {
	lower := strings.ToLower(text)
	var out Set
	for _, r := range c.rules {
		if out.Has(r.Intent) {
			continue
		}
		for _, kw := range r.Keywords {
			if ContainsWord(lower, kw) {
				out = append(out, r.Intent)
				break
			}
		}
	}
	return out
}

var defaultClassifier = NewClassifier(nil)

// Classify runs the default rule table.
func Classify(text string) Set {
	return defaultClassifier.Classify(text)
}

// ContainsWord reports whether kw occurs in text with no letter directly
// before or after it, so "hi" does not match inside "chi tiết".
func ContainsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for offset := 0; offset <= len(text)-len(kw); {
		i := strings.Index(text[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		if !letterBefore(text, start) && !letterAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func letterBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r)
}

func letterAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r)
}
