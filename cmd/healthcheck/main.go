// Command healthcheck probes the service for container health checks. It
// exits 0 when /healthz (or /readyz with -ready) answers 200.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := probe(ctx, &http.Client{}, probeURL(os.Getenv("HTTP_ADDR"), *ready)); err != nil {
		log.Printf("healthcheck failed: %v", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel was called above
	}
}

// probeURL builds the local URL for an HTTP_ADDR such as ":8080" or "0.0.0.0:9000".
func probeURL(addr string, ready bool) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	addr = strings.Replace(addr, "0.0.0.0", "localhost", 1)
	path := "/healthz"
	if ready {
		path = "/readyz"
	}
	return "http://" + addr + path
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "unexpected status " + http.StatusText(e.code) }
