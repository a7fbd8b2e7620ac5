// Command loadtest simulates users typing into the search box. Each worker
// types queries one keystroke at a time through a debounced searchbox.Box
// that calls the suggest endpoint, then submits the full query as a
// recorded search. The report shows how many requests the debounce saved
// and the latency users saw.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/searchbox"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/searcher/suggest"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Keystroke   time.Duration
	Debounce    time.Duration
	Queries     []string
}

type Stats struct {
	keystrokes    atomic.Int64
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	applied       atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of simulated users")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	keystroke := flag.Duration("keystroke", 120*time.Millisecond, "delay between keystrokes")
	debounce := flag.Duration("debounce", 300*time.Millisecond, "search box debounce delay")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Keystroke:   *keystroke,
		Debounce:    *debounce,
		Queries: []string{
			"data analyst",
			"software engineer",
			"alumni meetup",
			"mentor product management",
			"resume template",
			"machine learning",
			"internship chennai",
			"career fair",
			"system design interview",
			"class of 2018",
		},
	}

	fmt.Println("=== Search Box Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Users:       %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Keystroke:   %s\n", cfg.Keystroke)
	fmt.Printf("Debounce:    %s\n", cfg.Debounce)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

type client struct {
	http    *http.Client
	baseURL string
	userID  string
	stats   *Stats
}

func (c *client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-User-ID", c.userID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.stats.RecordRequest(time.Since(start), 0, err)
		return err
	}
	defer resp.Body.Close()
	c.stats.RecordRequest(time.Since(start), resp.StatusCode, nil)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) suggest(ctx context.Context, text string) ([]suggest.Suggestion, error) {
	var body struct {
		Suggestions []suggest.Suggestion `json:"suggestions"`
	}
	if err := c.get(ctx, "/api/v1/suggest", url.Values{"q": {text}}, &body); err != nil {
		return nil, err
	}
	return body.Suggestions, nil
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c := &client{
				http:    httpClient,
				baseURL: cfg.BaseURL,
				userID:  fmt.Sprintf("loadtest-%d", workerID),
				stats:   stats,
			}
			box := searchbox.New(c.suggest, func(u searchbox.Update[suggest.Suggestion]) {
				if u.Err == nil {
					stats.applied.Add(1)
				}
			}, searchbox.Config{Delay: cfg.Debounce, Budget: 2 * time.Second})
			defer box.Close()

			for queryIdx := workerID; ; queryIdx++ {
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				for i := 1; i <= len(query); i++ {
					select {
					case <-ctx.Done():
						return
					case <-time.After(cfg.Keystroke):
					}
					stats.keystrokes.Add(1)
					box.Type(query[:i])
				}
				// The user pauses, then presses enter.
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.Debounce):
				}
				_ = c.get(ctx, "/api/v1/search", url.Values{"q": {query}, "record": {"true"}}, nil)
				box.Type("")
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()
	keystrokes := stats.keystrokes.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Keystrokes:      %d\n", keystrokes)
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Updates Applied: %d\n", stats.applied.Load())

	if keystrokes > 0 {
		fmt.Printf("Requests/Key:    %.2f\n", float64(total)/float64(keystrokes))
	}
	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
