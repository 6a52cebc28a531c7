// Command healthcheck checks the local releasetracker health endpoint and
// exits non-zero when it does not answer 200. It is meant for container
// HEALTHCHECK directives in images without a shell.
package main

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	defaultAddr = "127.0.0.1:8080"
	healthPath  = "/api/v1/health"
)

func main() {
	os.Exit(check(healthURL(os.Getenv("RELEASETRACKER_LISTEN_ADDR")), 2*time.Second))
}

func check(target string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// healthURL builds the health URL from the listen address. Wildcard binds are
// checked on loopback since the check runs next to the server.
func healthURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port, _ = net.SplitHostPort(defaultAddr)
	}

	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}

	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port), Path: healthPath}
	return u.String()
}
