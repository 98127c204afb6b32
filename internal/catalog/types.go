package catalog

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Product is a snapshot of a backend product. Field names vary between
// backend versions, so decoding accepts several aliases per field.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	BasePrice   *float64 `json:"base_price,omitempty"`
	FinalPrice  *float64 `json:"final_price,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	ShopID      string   `json:"shop_id,omitempty"`
	ShopName    string   `json:"shop_name,omitempty"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = stringField(raw, "id", "productId", "productID")
	p.Name = stringField(raw, "productName", "name")
	p.Description = plainText(stringField(raw, "description", "productDescription"))
	p.BasePrice = numberField(raw, "basePrice", "originalPrice")
	p.FinalPrice = numberField(raw, "finalPrice", "discountedPrice")
	p.Price = numberField(raw, "price")
	if n := numberField(raw, "stockQuantity", "stock", "quantity"); n != nil {
		v := int(*n)
		p.Stock = &v
	}
	p.Active = boolField(raw, "isActive", "active")
	p.ShopID = stringField(raw, "shopId", "shopID")
	p.ShopName = stringField(raw, "shopName")
	return nil
}

// ResolvedPrice returns the first price present among final, plain and
// base price, in that order.
func (p Product) ResolvedPrice() (float64, bool) {
	for _, v := range []*float64{p.FinalPrice, p.Price, p.BasePrice} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// OnSale reports whether the final price is strictly below the base price.
func (p Product) OnSale() bool {
	return p.BasePrice != nil && p.FinalPrice != nil && *p.FinalPrice < *p.BasePrice
}

// Shop is a snapshot of a backend shop.
type Shop struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
	Active         bool   `json:"active"`
	ApprovalStatus string `json:"approval_status"`
}

func (s *Shop) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = stringField(raw, "id", "shopId", "shopID")
	s.Name = stringField(raw, "shopName", "name")
	s.Description = plainText(stringField(raw, "description", "shopDescription"))
	s.ApprovalStatus = stringField(raw, "approvalStatus", "approval_status")

	for _, key := range []string{"status", "isActive"} {
		if v, ok := raw[key]; ok && !isNull(v) {
			s.Status = strings.Trim(string(v), `"`)
			s.Active = truthy(v)
			break
		}
	}
	return nil
}

// Visible reports whether the shop may be shown to users: approved and
// with a truthy status.
func (s Shop) Visible() bool {
	return strings.EqualFold(strings.TrimSpace(s.ApprovalStatus), "approved") && s.Active
}

// FilterApprovedActive keeps only visible shops. It never mutates the input.
func FilterApprovedActive(shops []Shop) []Shop {
	out := make([]Shop, 0, len(shops))
	for _, s := range shops {
		if s.Visible() {
			out = append(out, s)
		}
	}
	return out
}

// FlashSaleEntry is one product slot of a running flash sale.
type FlashSaleEntry struct {
	ID                string   `json:"id"`
	ProductID         string   `json:"product_id"`
	ProductName       string   `json:"product_name"`
	FlashSalePrice    *float64 `json:"flash_sale_price,omitempty"`
	OriginalPrice     *float64 `json:"original_price,omitempty"`
	QuantityAvailable int      `json:"quantity_available"`
	QuantitySold      int      `json:"quantity_sold"`
	Slot              int      `json:"slot,omitempty"`
	EndTime           string   `json:"end_time,omitempty"`
}

func (f *FlashSaleEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.ID = stringField(raw, "id", "flashSaleId")
	f.ProductID = stringField(raw, "productId", "productID")
	f.ProductName = stringField(raw, "productName", "name")
	f.FlashSalePrice = numberField(raw, "flashSalePrice", "salePrice")
	f.OriginalPrice = numberField(raw, "originalPrice", "basePrice", "price")
	f.QuantityAvailable = intField(raw, "quantityAvailable", "availableQuantity", "quantity")
	f.QuantitySold = intField(raw, "quantitySold", "soldQuantity", "sold")
	f.Slot = intField(raw, "slot", "timeSlot")
	f.EndTime = stringField(raw, "endTime", "endDate")

	// Some backends embed the product instead of flattening it.
	if nested, ok := raw["product"]; ok && !isNull(nested) {
		var p Product
		if err := json.Unmarshal(nested, &p); err == nil {
			if f.ProductName == "" {
				f.ProductName = p.Name
			}
			if f.ProductID == "" {
				f.ProductID = p.ID
			}
			if f.OriginalPrice == nil {
				f.OriginalPrice = p.BasePrice
			}
		}
	}
	return nil
}

// DiscountPercent is derived only when both prices are present and non-zero.
func (f FlashSaleEntry) DiscountPercent() (float64, bool) {
	if f.FlashSalePrice == nil || f.OriginalPrice == nil {
		return 0, false
	}
	sale, orig := *f.FlashSalePrice, *f.OriginalPrice
	if sale == 0 || orig == 0 {
		return 0, false
	}
	return (orig - sale) / orig * 100, true
}

// truthy accepts true, "true" and 1.
func truthy(v json.RawMessage) bool {
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return false
	}
	switch t := x.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	case float64:
		return t == 1
	}
	return false
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

func stringField(raw map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isNull(v) {
			continue
		}
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			continue
		}
		switch t := x.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return ""
}

func numberField(raw map[string]json.RawMessage, keys ...string) *float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isNull(v) {
			continue
		}
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			continue
		}
		switch t := x.(type) {
		case float64:
			return &t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func intField(raw map[string]json.RawMessage, keys ...string) int {
	if n := numberField(raw, keys...); n != nil {
		return int(*n)
	}
	return 0
}

func boolField(raw map[string]json.RawMessage, keys ...string) *bool {
	for _, k := range keys {
		if v, ok := raw[k]; ok && !isNull(v) {
			b := truthy(v)
			return &b
		}
	}
	return nil
}
