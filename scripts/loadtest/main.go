// Loadtest drives the proxy with concurrent raw TCP clients and checks that
// every client receives its own response.
//
// Usage:
//
//	go run ./scripts/loadtest -addr 127.0.0.1:8080 -concurrency 20 -requests 1000
//	go run ./scripts/loadtest -addr 127.0.0.1:8080 -out summary.json
//
// Each request targets a unique path. The fixture upstream in scripts/upstream
// echoes the path in its body, so a body carrying another request's path means
// responses were crossed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/forward-proxy/internal/message"
	"github.com/angeloszaimis/forward-proxy/internal/transform"
)

type result struct {
	status   string
	duration time.Duration
	err      error
}

type summary struct {
	Target        string           `json:"target"`
	Requests      int              `json:"requests"`
	Concurrency   int              `json:"concurrency"`
	Success       int32            `json:"success"`
	Failure       int32            `json:"failure"`
	Crossed       int32            `json:"crossed"`
	MissingHeader int32            `json:"missing_header"`
	DurationMs    int64            `json:"duration_ms"`
	Throughput    float64          `json:"throughput_rps"`
	StatusCodes   map[string]int32 `json:"status_codes"`
	P50Ms         float64          `json:"p50_ms"`
	P90Ms         float64          `json:"p90_ms"`
	P95Ms         float64          `json:"p95_ms"`
	P99Ms         float64          `json:"p99_ms"`
}

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8080", "proxy address")
		concurrency = flag.Int("concurrency", 10, "number of concurrent workers")
		requests    = flag.Int("requests", 100, "total number of requests to send")
		timeoutSec  = flag.Int("timeout", 10, "per-request timeout in seconds")
		outJSON     = flag.String("out", "", "write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "verbose per-request logging to stdout")
	)
	flag.Parse()

	timeout := time.Duration(*timeoutSec) * time.Second

	var success, failure, crossed, missingHeader int32
	results := make([]result, *requests)
	jobs := make(chan int)
	var wg sync.WaitGroup

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				path := fmt.Sprintf("/load/%d", idx)
				start := time.Now()
				resp, err := roundTrip(*addr, path, timeout)
				res := result{duration: time.Since(start), err: err}

				switch {
				case err != nil:
					atomic.AddInt32(&failure, 1)
				case !strings.HasPrefix(string(resp.Body), path+" "):
					atomic.AddInt32(&crossed, 1)
					atomic.AddInt32(&failure, 1)
				default:
					atomic.AddInt32(&success, 1)
				}
				if err == nil {
					res.status = resp.StatusCode
					if _, ok := resp.Headers.Get(transform.HeaderName); !ok {
						atomic.AddInt32(&missingHeader, 1)
					}
				}
				results[idx] = res

				if *verbose {
					fmt.Printf("[%d] path=%s status=%s dur=%v err=%v\n", workerID, path, res.status, res.duration, err)
				}
			}
		}(i)
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	totalDuration := time.Since(testStart)

	sum := summary{
		Target:        *addr,
		Requests:      *requests,
		Concurrency:   *concurrency,
		Success:       success,
		Failure:       failure,
		Crossed:       crossed,
		MissingHeader: missingHeader,
		DurationMs:    totalDuration.Milliseconds(),
		Throughput:    float64(*requests) / totalDuration.Seconds(),
		StatusCodes:   map[string]int32{},
	}

	var latencies []time.Duration
	for _, r := range results {
		latencies = append(latencies, r.duration)
		if r.err == nil {
			sum.StatusCodes[r.status]++
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	if len(latencies) > 0 {
		pick := func(p float64) float64 {
			return float64(latencies[int(float64(len(latencies)-1)*p)].Microseconds()) / 1000.0
		}
		sum.P50Ms, sum.P90Ms, sum.P95Ms, sum.P99Ms = pick(0.50), pick(0.90), pick(0.95), pick(0.99)
	}

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", sum.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", sum.Requests, sum.Concurrency)
	fmt.Printf("Success: %d  Failure: %d  Crossed: %d  Missing %s: %d\n",
		sum.Success, sum.Failure, sum.Crossed, transform.HeaderName, sum.MissingHeader)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, sum.Throughput)
	fmt.Printf("Latency ms: p50=%.3f p90=%.3f p95=%.3f p99=%.3f\n", sum.P50Ms, sum.P90Ms, sum.P95Ms, sum.P99Ms)

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(sum)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 || missingHeader > 0 {
		os.Exit(2)
	}
}

// roundTrip sends one request over a fresh connection and reads until the
// proxy closes it.
func roundTrip(addr, path string, timeout time.Duration) (message.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return message.Message{}, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return message.Message{}, err
	}

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, addr)
	if _, err := conn.Write([]byte(req)); err != nil {
		return message.Message{}, err
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return message.Message{}, err
	}
	if len(raw) == 0 {
		return message.Message{}, fmt.Errorf("empty response for %s", path)
	}

	return message.Parse(raw), nil
}
