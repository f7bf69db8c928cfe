package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// shopHeader names the shop on every request.
const shopHeader = "X-Shop-Domain"

type ctlClient struct {
	baseURL string
	shop    string
	http    *http.Client
}

func newCtlClient(baseURL, shop string) *ctlClient {
	return &ctlClient{
		baseURL: baseURL,
		shop:    shop,
		http: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// do sends a request with an optional JSON body and decodes a JSON
// response into v. Any status >= 400 is an error carrying the server's
// message.
func (c *ctlClient) do(method, path string, query url.Values, body, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.shop != "" {
		req.Header.Set(shopHeader, c.shop)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to spectable server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Message != "" {
				return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
			}
			if errResp.Error != "" {
				return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Error)
			}
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
