// Command healthcheck probes a local keyvault instance for container
// health checks. It exits 0 when the service reports ok.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

type healthBody struct {
	Status   string `json:"status"`
	Database struct {
		Status string `json:"status"`
	} `json:"database"`
}

func main() {
	requireDB, err := parseRequireDB(os.Getenv("KEYVAULT_HEALTHCHECK_REQUIRE_DB"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		os.Exit(2)
	}
	url := fmt.Sprintf("http://%s/api/v1/health", normalizeAddr(os.Getenv("KEYVAULT_LISTEN_ADDR")))

	if err := check(url, requireDB); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		os.Exit(1)
	}
}

// parseRequireDB reads the strictness flag. Unset means false; any other
// value must parse as a bool.
func parseRequireDB(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid KEYVAULT_HEALTHCHECK_REQUIRE_DB %q: want true or false", raw)
	}
	return v, nil
}

// check fetches the health endpoint. With requireDB set, a storage
// connection that is not currently up also counts as unhealthy.
func check(url string, requireDB bool) error {
	client := &http.Client{Timeout: 2 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("service status %q", body.Status)
	}
	if requireDB && body.Database.Status != "connected" {
		return fmt.Errorf("database status %q", body.Database.Status)
	}
	return nil
}

// normalizeAddr ensures the healthcheck connects to loopback rather than the
// bind-all address. Docker containers bind 0.0.0.0 but the healthcheck runs
// inside the same container, so loopback is reachable and more correct.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
