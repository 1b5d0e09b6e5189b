// Healthcheck probe for container orchestrators. It stays free of the
// config package so the binary remains a few hundred kilobytes.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const probeTimeout = 2 * time.Second

func main() {
	if err := probe(); err != nil {
		os.Exit(1)
	}
}

func probe() error {
	addr := loopbackAddr(os.Getenv("VCFCRED_LISTEN_ADDR"))

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/api/v1/health", nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// loopbackAddr maps the service's listen address to one the probe can
// dial from inside the same container: a bind-all or empty host becomes
// loopback.
func loopbackAddr(raw string) string {
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "127.0.0.1:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
