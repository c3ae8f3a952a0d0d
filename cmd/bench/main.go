// Command bench drives concurrent HTTP requests through a cachegate proxy
// and reports latency percentiles, for load-testing a running instance.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

func main() {
	var (
		proxy       = flag.String("proxy", "http://127.0.0.1:3128", "cachegate proxy HTTP_PROXY URL")
		target      = flag.String("target", "http://example.com/", "URL to request through the proxy")
		concurrency = flag.Int("concurrency", 50, "Number of concurrent workers")
		requests    = flag.Int("requests", 2000, "Total number of requests")
		timeout     = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
	)
	flag.Parse()

	proxyURL, err := url.Parse(*proxy)
	if err != nil {
		panic(err)
	}

	conc := *concurrency
	if conc < 1 {
		conc = 1
	}
	total := *requests
	if total < 1 {
		total = 1
	}
	per := total / conc
	rem := total % conc

	lat := make([]float64, 0, total)
	var latMu sync.Mutex
	var hits, misses, errs int
	var countMu sync.Mutex

	t0 := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < conc; i++ {
		n := per
		if i < rem {
			n++
		}
		if n <= 0 {
			continue
		}
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
				Timeout:   *timeout,
			}
			for j := 0; j < num; j++ {
				start := time.Now()
				resp, err := client.Get(*target)
				if err != nil {
					countMu.Lock()
					errs++
					countMu.Unlock()
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				ms := float64(time.Since(start).Microseconds()) / 1000.0
				latMu.Lock()
				lat = append(lat, ms)
				latMu.Unlock()

				countMu.Lock()
				if xc := resp.Header.Get("X-Cache"); xc == "" || strings.HasPrefix(xc, "MISS") {
					misses++
				} else {
					hits++
				}
				countMu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	if len(lat) == 0 {
		fmt.Printf("no successful requests (errors=%d)\n", errs)
		return
	}
	sort.Float64s(lat)
	p50 := percentile(lat, 50)
	p95 := percentile(lat, 95)
	p99 := percentile(lat, 99)
	qps := float64(len(lat)) / elapsed

	fmt.Printf("proxy=%s target=%q concurrency=%d requests=%d errors=%d\n", *proxy, *target, conc, len(lat), errs)
	fmt.Printf("elapsed_s=%.3f qps=%.1f hits=%d misses=%d\n", elapsed, qps, hits, misses)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n", p50, p95, p99, lat[0], lat[len(lat)-1])
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
