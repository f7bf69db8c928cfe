package tenancy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *Config
		url        string
		header     string
		wantStatus int
		wantShop   string
	}{
		{
			name:       "single mode: no shop param -> default shop",
			cfg:        &Config{Mode: ModeSingle, DefaultShop: "acme.myshopify.com"},
			url:        "/api/test",
			wantStatus: http.StatusOK,
			wantShop:   "acme.myshopify.com",
		},
		{
			name:       "single mode: shop param ignored",
			cfg:        &Config{Mode: ModeSingle, DefaultShop: "acme.myshopify.com"},
			url:        "/api/test?shop=other.myshopify.com",
			wantStatus: http.StatusOK,
			wantShop:   "acme.myshopify.com",
		},
		{
			name:       "single mode without default shop -> 400",
			cfg:        &Config{Mode: ModeSingle},
			url:        "/api/test",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "shop mode: shop from query param",
			cfg:        DefaultConfig(),
			url:        "/api/test?shop=acme.myshopify.com",
			wantStatus: http.StatusOK,
			wantShop:   "acme.myshopify.com",
		},
		{
			name:       "shop mode: shop from header",
			cfg:        DefaultConfig(),
			url:        "/api/test",
			header:     "acme.myshopify.com",
			wantStatus: http.StatusOK,
			wantShop:   "acme.myshopify.com",
		},
		{
			name:       "shop mode: missing shop -> 400",
			cfg:        DefaultConfig(),
			url:        "/api/test",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "shop mode: invalid shop -> 400",
			cfg:        DefaultConfig(),
			url:        "/api/test?shop=acme_shop!",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := NewMiddleware(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = ShopIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set(ShopHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusOK && captured != tt.wantShop {
				t.Errorf("shop in context = %q, want %q", captured, tt.wantShop)
			}

			if tt.wantStatus == http.StatusBadRequest {
				var errBody map[string]string
				if err := json.NewDecoder(w.Body).Decode(&errBody); err != nil {
					t.Fatalf("failed to decode error body: %v", err)
				}
				if errBody["error"] != "bad_request" {
					t.Errorf("error field = %q, want %q", errBody["error"], "bad_request")
				}
				if errBody["message"] == "" {
					t.Error("expected non-empty message in error response")
				}
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SPECTABLE_TENANCY_MODE", "SINGLE")
	t.Setenv("SPECTABLE_DEFAULT_SHOP", "acme.myshopify.com")

	cfg := ConfigFromEnv()
	if cfg.Mode != ModeSingle {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeSingle)
	}
	if cfg.DefaultShop != "acme.myshopify.com" {
		t.Errorf("DefaultShop = %q, want %q", cfg.DefaultShop, "acme.myshopify.com")
	}
}
