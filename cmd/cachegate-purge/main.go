// Command cachegate-purge sends a one-shot PURGE request through a running
// cachegate proxy, evicting any cached GET/HEAD entry for the given URL.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	var (
		proxy   = flag.String("proxy", "http://127.0.0.1:3128", "cachegate proxy HTTP_PROXY URL")
		target  = flag.String("url", "", "URL to purge from the cache")
		timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Parse()

	if *target == "" {
		fmt.Fprintln(os.Stderr, "cachegate-purge: -url is required")
		os.Exit(2)
	}

	if err := run(*proxy, *target, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "cachegate-purge: %v\n", err)
		os.Exit(1)
	}
}

func run(proxy, target string, timeout time.Duration) error {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return fmt.Errorf("parse proxy URL: %w", err)
	}

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   timeout,
	}

	req, err := http.NewRequest("PURGE", target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send PURGE: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("purged: %s\n", target)
		return nil
	case http.StatusNotFound:
		fmt.Printf("nothing cached for: %s\n", target)
		return nil
	case http.StatusForbidden:
		return fmt.Errorf("purge not permitted (enable_purge is false on the proxy)")
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
