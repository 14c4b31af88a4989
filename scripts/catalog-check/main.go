// catalog-check compares the bundled provider catalog (providers/catalog.json)
// with the live list at oembed.com and checks that every provider home page
// still answers. Providers added or removed upstream and home pages returning
// 4xx/5xx or failing to connect are reported. The process exits with code 1
// when the bundled copy is stale or any page fails so the GitHub Action can
// open an issue.
//
// Usage:
//
// go run ./scripts/catalog-check                    # bundled catalog vs oembed.com
// go run ./scripts/catalog-check -catalog /path/to/providers.json
// go run ./scripts/catalog-check -skip-pages        # name diff only
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ferro-labs/oembed-filter/internal/version"
	"github.com/ferro-labs/oembed-filter/providers"
)

func main() {
	catalogPath := flag.String("catalog", "", "path to a providers.json to check (default: the bundled catalog)")
	liveURL := flag.String("url", providers.DefaultCatalogURL, "live catalog url")
	concurrency := flag.Int("concurrency", 10, "number of parallel HTTP requests")
	skipPages := flag.Bool("skip-pages", false, "do not check provider home pages")
	flag.Parse()

	local, err := loadLocal(*catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load catalog: %v\n", err)
		os.Exit(2)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	failed := false
	live, err := fetchLive(client, *liveURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot fetch live catalog: %v\n", err)
		os.Exit(2)
	}
	added, removed := diffNames(local, live)
	fmt.Fprintf(os.Stderr, "Bundled: %d providers, live: %d providers\n", len(local), len(live))
	if len(added)+len(removed) > 0 {
		failed = true
		for _, n := range added {
			fmt.Fprintf(os.Stderr, "  + %s\n", n)
		}
		for _, n := range removed {
			fmt.Fprintf(os.Stderr, "  - %s\n", n)
		}
	}

	if !*skipPages {
		if failures := checkPages(client, local, *concurrency); len(failures) > 0 {
			failed = true
			fmt.Fprintln(os.Stderr, "\nFailed home pages:")
			for _, f := range failures {
				fmt.Fprintln(os.Stderr, f)
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}

func loadLocal(path string) ([]providers.Provider, error) {
	if path == "" {
		return providers.DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return providers.ParseCatalog(data, path)
}

func fetchLive(client *http.Client, url string) ([]providers.Provider, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	return providers.ParseCatalog(data, url)
}

// diffNames returns the provider names only in live and only in local.
func diffNames(local, live []providers.Provider) (added, removed []string) {
	have := map[string]bool{}
	for _, p := range local {
		have[p.Name] = true
	}
	upstream := map[string]bool{}
	for _, p := range live {
		upstream[p.Name] = true
		if !have[p.Name] {
			added = append(added, p.Name)
		}
	}
	for _, p := range local {
		if !upstream[p.Name] {
			removed = append(removed, p.Name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func checkPages(client *http.Client, list []providers.Provider, concurrency int) []string {
	seen := map[string]bool{}
	var urls []string
	for _, p := range list {
		u := strings.TrimSpace(p.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	sort.Strings(urls)
	fmt.Fprintf(os.Stderr, "Checking %d provider home pages (concurrency=%d)...\n", len(urls), concurrency)

	type result struct {
		url    string
		status int
		err    error
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan result, len(urls))
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			status, err := probe(client, http.MethodHead, u)
			if err != nil || status == http.StatusMethodNotAllowed {
				// Some servers reject HEAD; retry with GET.
				status, err = probe(client, http.MethodGet, u)
			}
			results <- result{url: u, status: status, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var failures []string
	ok := 0
	for r := range results {
		switch {
		case r.err != nil:
			failures = append(failures, fmt.Sprintf("  CONN ERR  %s\n            %v", r.url, r.err))
		case r.status >= 400:
			failures = append(failures, fmt.Sprintf("  HTTP %-4d  %s", r.status, r.url))
		default:
			ok++
		}
	}
	sort.Strings(failures)
	fmt.Fprintf(os.Stderr, "%d OK, %d failed\n", ok, len(failures))
	return failures
}

func probe(client *http.Client, method, url string) (int, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
