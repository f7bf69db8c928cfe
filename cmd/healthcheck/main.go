// Package main provides a container health check for distroless images, where no
// shell or curl is available. It asks the spectable server for readiness
// and exits 0 when the server reports ready.
//
// Usage: healthcheck [url]
// The URL defaults to $SPECTABLE_HEALTHCHECK_URL, then
// http://localhost:8080/readyz.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	url := defaultURL
	if v := os.Getenv("SPECTABLE_HEALTHCHECK_URL"); v != "" {
		url = v
	}
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	client := &http.Client{Timeout: 5 * time.Second}
	if err := check(client, url); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

// check requires a 2xx answer. A JSON body carrying a status other than
// "ready" or "alive" fails too, naming the components that are not up.
func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, describe(body))
	}

	var report struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &report) == nil && report.Status != "" &&
		report.Status != "ready" && report.Status != "alive" {
		return fmt.Errorf("server reports %q: %s", report.Status, describe(body))
	}
	return nil
}

// describe lists the components of a readiness report that are not up, or
// returns the raw body when it is not one.
func describe(body []byte) string {
	var report struct {
		Components map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"components"`
	}
	if json.Unmarshal(body, &report) != nil || len(report.Components) == 0 {
		return string(body)
	}

	var out string
	for name, c := range report.Components {
		switch c.Status {
		case "up", "complete", "leader", "follower", "not_configured":
			continue
		}
		if out != "" {
			out += ", "
		}
		out += name + "=" + c.Status
		if c.Error != "" {
			out += " (" + c.Error + ")"
		}
	}
	if out == "" {
		return string(body)
	}
	return out
}
