package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultShopsPageSize = 50
	maxResponseSize      = 8 << 20 // 8MB
)

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	Timeout       time.Duration
	ShopsPageSize int
	UserAgent     string
	HTTPClient    *http.Client
}

// Gateway fetches catalog data from the backend API. Every fetch degrades
// to an empty result on failure; errors are logged, never returned.
type Gateway struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	cache         Cache
	shopsPageSize int
	userAgent     string

	group singleflight.Group
}

// NewGateway creates a Gateway for the backend at baseURL. A nil cache
// disables caching.
func NewGateway(baseURL string, cache Cache, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ShopsPageSize <= 0 {
		opts.ShopsPageSize = defaultShopsPageSize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cartbot"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Gateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    client,
		timeout:       opts.Timeout,
		cache:         cache,
		shopsPageSize: opts.ShopsPageSize,
		userAgent:     opts.UserAgent,
	}
}

// BaseURL returns the backend origin.
func (g *Gateway) BaseURL() string { return g.baseURL }

// FetchProducts returns all products.
func (g *Gateway) FetchProducts(ctx context.Context) []Product {
	list := g.fetchList(ctx, "products", "/api/products", nil)
	return decodeList[Product](list)
}

// FetchShops returns approved, active shops.
func (g *Gateway) FetchShops(ctx context.Context) []Shop {
	params := map[string]string{
		"pageNumber": "1",
		"pageSize":   strconv.Itoa(g.shopsPageSize),
	}
	list := g.fetchList(ctx, "shops", "/api/shops", params)
	return FilterApprovedActive(decodeList[Shop](list))
}

// FetchProductsByShop returns the products of one shop.
func (g *Gateway) FetchProductsByShop(ctx context.Context, shopID string, activeOnly bool) []Product {
	if shopID == "" {
		return nil
	}
	params := map[string]string{
		"activeOnly": strconv.FormatBool(activeOnly),
	}
	path := "/api/products/shop/" + url.PathEscape(shopID)
	list := g.fetchList(ctx, "products_by_shop:"+shopID, path, params)
	return decodeList[Product](list)
}

// FetchCurrentFlashSales returns the flash-sale entries running now.
func (g *Gateway) FetchCurrentFlashSales(ctx context.Context) []FlashSaleEntry {
	list := g.fetchList(ctx, "flash_sales_current", "/api/flashsales/current", nil)
	return decodeList[FlashSaleEntry](list)
}

// FetchShopByID returns a single shop. It is never cached. Unknown,
// unapproved and inactive shops are reported as not found.
func (g *Gateway) FetchShopByID(ctx context.Context, id string) (Shop, bool) {
	if id == "" {
		return Shop{}, false
	}
	body, err := g.get(ctx, "/api/shops/"+url.PathEscape(id), nil)
	if err != nil {
		slog.Warn("catalog fetch failed", "op", "shop_by_id", "shop_id", id, "error", err)
		return Shop{}, false
	}
	obj, ok := extractObject(body)
	if !ok {
		slog.Warn("catalog response is not an object", "op", "shop_by_id", "shop_id", id)
		return Shop{}, false
	}
	var s Shop
	if err := json.Unmarshal(obj, &s); err != nil {
		slog.Warn("decoding shop failed", "shop_id", id, "error", err)
		return Shop{}, false
	}
	if s.ID == "" && s.Name == "" {
		return Shop{}, false
	}
	if !s.Visible() {
		return Shop{}, false
	}
	return s, true
}

// fetchList returns the extracted list payload for a call, serving it
// from cache when possible. Concurrent misses for the same key share a
// single backend request, which outlives the first caller's cancellation
// but keeps its own timeout. Failures yield nil and are not cached.
func (g *Gateway) fetchList(ctx context.Context, op, path string, params map[string]string) json.RawMessage {
	key := cacheKey(op, params)
	if g.cache != nil {
		if b, ok := g.cache.Get(ctx, key); ok {
			return b
		}
	}

	shared := context.WithoutCancel(ctx)
	v, _, _ := g.group.Do(key, func() (any, error) {
		body, err := g.get(shared, path, params)
		if err != nil {
			slog.Warn("catalog fetch failed", "op", op, "error", err)
			return json.RawMessage(nil), nil
		}
		list, ok := extractList(body)
		if !ok {
			slog.Warn("catalog response has no recognizable list", "op", op)
			return json.RawMessage(nil), nil
		}
		if g.cache != nil {
			g.cache.Set(shared, key, list)
		}
		return list, nil
	})
	list, _ := v.(json.RawMessage)
	return list
}

func (g *Gateway) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	u := g.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
