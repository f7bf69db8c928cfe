package tenancy

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// maxShopLen bounds a shop domain, following DNS name limits.
const maxShopLen = 253

// shopRe accepts lowercase DNS names such as "acme.myshopify.com".
var shopRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

// ShopQueryParam is the query parameter used for shop resolution.
const ShopQueryParam = "shop"

// ShopHeader is the HTTP header used for shop resolution.
const ShopHeader = "X-Shop-Domain"

// ErrShopRequired is returned when a request names no shop.
var ErrShopRequired = errors.New("shop is required (use ?shop= query param or X-Shop-Domain header)")

// ShopResolver resolves the shop from an HTTP request.
type ShopResolver interface {
	Resolve(r *http.Request) (ShopContext, error)
}

// SingleShopResolver always returns the same shop.
type SingleShopResolver struct {
	ShopID string
}

// Resolve returns the configured shop.
func (s SingleShopResolver) Resolve(_ *http.Request) (ShopContext, error) {
	if s.ShopID == "" {
		return ShopContext{}, ErrShopRequired
	}
	return ShopContext{ShopID: s.ShopID, Source: "default"}, nil
}

// RequestShopResolver reads the shop from the query parameter, then the
// header. Values are lowercased before validation.
type RequestShopResolver struct{}

// Resolve extracts and validates the shop.
func (RequestShopResolver) Resolve(r *http.Request) (ShopContext, error) {
	source := "query"
	shop := r.URL.Query().Get(ShopQueryParam)
	if shop == "" {
		source = "header"
		shop = r.Header.Get(ShopHeader)
	}

	shop = NormalizeShop(shop)
	if shop == "" {
		return ShopContext{}, ErrShopRequired
	}
	if err := ValidateShop(shop); err != nil {
		return ShopContext{}, err
	}
	return ShopContext{ShopID: shop, Source: source}, nil
}

// NormalizeShop trims and lowercases a shop domain and drops a scheme or
// trailing slash pasted from a browser.
func NormalizeShop(shop string) string {
	shop = strings.ToLower(strings.TrimSpace(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	return strings.TrimSuffix(shop, "/")
}

// ValidateShop checks that a normalized shop is a DNS name.
func ValidateShop(shop string) error {
	if len(shop) > maxShopLen {
		return fmt.Errorf("shop %q exceeds maximum length of %d characters", shop, maxShopLen)
	}
	if !shopRe.MatchString(shop) {
		return fmt.Errorf("shop %q is invalid: must be a lowercase domain name", shop)
	}
	return nil
}
