// Package composer turns a user message into the catalog context and the
// final prompt handed to the completion model.
package composer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cartbot/internal/catalog"
	"github.com/kalambet/cartbot/internal/filter"
	"github.com/kalambet/cartbot/internal/intent"
	"github.com/kalambet/cartbot/internal/knowledge"
)

const (
	maxEntries     = 5
	maxShopEntries = 10
	maxDescRunes   = 200

	NoProductsText   = "Chưa có thông tin sản phẩm."
	NoShopsText      = "Chưa có thông tin cửa hàng."
	NoFlashSalesText = "Hiện chưa có chương trình flash sale nào."
)

// Catalog is the read side of the catalog gateway. Implementations absorb
// their own failures and return empty slices.
type Catalog interface {
	FetchProducts(ctx context.Context) []catalog.Product
	FetchShops(ctx context.Context) []catalog.Shop
	FetchProductsByShop(ctx context.Context, shopID string, activeOnly bool) []catalog.Product
	FetchCurrentFlashSales(ctx context.Context) []catalog.FlashSaleEntry
}

// ShopResolver maps a message to one of the given shops.
type ShopResolver interface {
	Resolve(message string, shops []catalog.Shop) (catalog.Shop, bool)
}

// Context is the assembled, prompt-ready view of the catalog for one message.
type Context struct {
	ProductsText   string
	ShopsText      string
	FlashSalesText string
	PolicyText     string
	Intents        intent.Set
	Shop           *catalog.Shop
}

// Assembler owns no state beyond its collaborators.
type Assembler struct {
	catalog    Catalog
	resolver   ShopResolver
	classifier *intent.Classifier
}

// NewAssembler creates an Assembler using the default intent table.
func NewAssembler(cat Catalog, resolver ShopResolver) *Assembler {
	return &Assembler{catalog: cat, resolver: resolver, classifier: intent.NewClassifier(nil)}
}

// Assemble classifies message and builds its context.
func (a *Assembler) Assemble(ctx context.Context, message string) Context {
	return a.AssembleIntents(ctx, message, a.classifier.Classify(message))
}

// AssembleIntents builds the context for already classified intents. The
// product, shop and flash-sale fetches run concurrently.
func (a *Assembler) AssembleIntents(ctx context.Context, message string, intents intent.Set) Context {
	out := Context{
		ProductsText:   NoProductsText,
		ShopsText:      NoShopsText,
		FlashSalesText: NoFlashSalesText,
		PolicyText:     knowledge.Text(message),
		Intents:        intents,
	}

	price := filter.ParsePrice(message)
	status := filter.ParseStatus(message)

	var (
		products     []catalog.Product
		shops        []catalog.Shop
		shopProducts []catalog.Product
		resolved     *catalog.Shop
		flashSales   []catalog.FlashSaleEntry
	)

	// Gateway calls never fail, so the group only fans out.
	g, gctx := errgroup.WithContext(ctx)
	if intents.Has(intent.Product) {
		g.Go(func() error {
			products = filter.Apply(a.catalog.FetchProducts(gctx), price, status)
			return nil
		})
	}
	if intents.Has(intent.Product) || intents.Has(intent.Shop) {
		g.Go(func() error {
			shops = a.catalog.FetchShops(gctx)
			if a.resolver == nil {
				return nil
			}
			if s, ok := a.resolver.Resolve(message, shops); ok {
				resolved = &s
				shopProducts = filter.Apply(a.catalog.FetchProductsByShop(gctx, s.ID, true), price, status)
			}
			return nil
		})
	}
	if intents.Has(intent.FlashSale) {
		g.Go(func() error {
			flashSales = a.catalog.FetchCurrentFlashSales(gctx)
			return nil
		})
	}
	_ = g.Wait()

	out.Shop = resolved
	switch {
	case resolved != nil && len(shopProducts) > 0:
		out.ProductsText = formatProducts("SẢN PHẨM CỦA CỬA HÀNG "+resolved.Name, shopProducts, maxShopEntries)
	case len(products) > 0:
		out.ProductsText = formatProducts("DANH SÁCH SẢN PHẨM", products, maxEntries)
	}
	if len(shops) > 0 {
		out.ShopsText = formatShops(shops, resolved)
	}
	if len(flashSales) > 0 {
		out.FlashSalesText = formatFlashSales(flashSales)
	}
	return out
}

func formatProducts(title string, products []catalog.Product, limit int) string {
	var sb strings.Builder
	sb.WriteString(title + ":\n")
	for i, p := range products[:min(limit, len(products))] {
		fmt.Fprintf(&sb, "%d. Tên: %s\n", i+1, nonEmpty(p.Name, "Không rõ"))
		if price, ok := p.ResolvedPrice(); ok {
			line := formatVND(price)
			if p.OnSale() {
				line += " (giá gốc " + formatVND(*p.BasePrice) + ")"
			}
			fmt.Fprintf(&sb, "   Giá: %s\n", line)
		}
		if p.Stock != nil {
			if *p.Stock > 0 {
				fmt.Fprintf(&sb, "   Tồn kho: %d\n", *p.Stock)
			} else {
				sb.WriteString("   Tồn kho: hết hàng\n")
			}
		}
		if p.ShopName != "" {
			fmt.Fprintf(&sb, "   Cửa hàng: %s\n", p.ShopName)
		}
		if p.Description != "" {
			fmt.Fprintf(&sb, "   Mô tả: %s\n", truncate(p.Description, maxDescRunes))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatShops lists up to maxEntries shops with the resolved shop first.
func formatShops(shops []catalog.Shop, resolved *catalog.Shop) string {
	ordered := make([]catalog.Shop, 0, len(shops)+1)
	if resolved != nil {
		ordered = append(ordered, *resolved)
	}
	for _, s := range shops {
		if resolved != nil && s.ID == resolved.ID {
			continue
		}
		ordered = append(ordered, s)
	}

	var sb strings.Builder
	sb.WriteString("DANH SÁCH CỬA HÀNG:\n")
	for i, s := range ordered[:min(maxEntries, len(ordered))] {
		fmt.Fprintf(&sb, "%d. Tên: %s\n", i+1, nonEmpty(s.Name, "Không rõ"))
		if s.Description != "" {
			fmt.Fprintf(&sb, "   Mô tả: %s\n", truncate(s.Description, maxDescRunes))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatFlashSales(entries []catalog.FlashSaleEntry) string {
	var sb strings.Builder
	sb.WriteString("CHƯƠNG TRÌNH FLASH SALE:\n")
	for i, f := range entries[:min(maxEntries, len(entries))] {
		fmt.Fprintf(&sb, "%d. Sản phẩm: %s\n", i+1, nonEmpty(f.ProductName, "Không rõ"))
		if f.FlashSalePrice != nil {
			line := formatVND(*f.FlashSalePrice)
			if pct, ok := f.DiscountPercent(); ok {
				line += fmt.Sprintf(" (giảm %.0f%%)", pct)
			}
			fmt.Fprintf(&sb, "   Giá flash sale: %s\n", line)
		}
		if f.OriginalPrice != nil {
			fmt.Fprintf(&sb, "   Giá gốc: %s\n", formatVND(*f.OriginalPrice))
		}
		fmt.Fprintf(&sb, "   Còn lại: %d (đã bán %d)\n", f.QuantityAvailable, f.QuantitySold)
		if f.EndTime != "" {
			fmt.Fprintf(&sb, "   Kết thúc: %s\n", f.EndTime)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatVND renders an amount with dot thousands separators, e.g. 150.000đ.
func formatVND(v float64) string {
	n := int64(math.Round(v))
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(d)
	}
	sb.WriteString("đ")
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func nonEmpty(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
