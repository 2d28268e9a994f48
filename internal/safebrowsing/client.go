package safebrowsing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultEndpoint = "https://safebrowsing.googleapis.com/v4/threatMatches:find"

var (
	// ErrLookupFailed marks an external lookup that errored after retries;
	// the affected URLs carry no verdict and callers decide fail-open or
	// fail-closed.
	ErrLookupFailed = errors.New("safebrowsing: lookup failed")
	// ErrClosed is returned to waiters released by Close.
	ErrClosed = errors.New("safebrowsing: client closed")
)

type Config struct {
	APIKey        string
	ClientID      string
	ClientVersion string
	// Endpoint overrides the lookup API URL, used in tests.
	Endpoint string
	// BatchSize bounds the URLs coalesced into one external request.
	BatchSize int
	// SafeTTL is the cache lifetime for safe verdicts; unsafe verdicts use
	// the service-provided duration.
	SafeTTL time.Duration
	// ResolveTimeout caps how long Resolve blocks when the caller's context
	// carries no deadline of its own.
	ResolveTimeout time.Duration
	// Retries is the number of times a failed batch is re-sent before its
	// waiters are failed.
	Retries int
}

func (c *Config) withDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.SafeTTL <= 0 {
		c.SafeTTL = 30 * time.Minute
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 10 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
}

// Client batches outstanding URL lookups against the Safe Browsing lookup
// API. A single consumer goroutine drains the queue, so at most one
// external request is in flight at a time, and at most one lookup is issued
// per URL until its cached verdict expires.
type Client struct {
	cfg    Config
	logger *zap.Logger
	http   *http.Client
	cache  *Cache

	queue     chan string
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	failed   map[string]error
	// signal is closed and replaced after every batch completes; waiters
	// re-check the cache on each broadcast.
	signal chan struct{}
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		logger:   logger,
		http:     &http.Client{Timeout: 15 * time.Second},
		cache:    NewCache(),
		queue:    make(chan string, 256),
		cancel:   cancel,
		done:     make(chan struct{}),
		inflight: make(map[string]struct{}),
		failed:   make(map[string]error),
		signal:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run(ctx)
	return c
}

func (c *Client) Cache() *Cache {
	return c.cache
}

// Resolve blocks until every requested URL has a verdict, the context
// expires, or the client shuts down. URLs already cached or already in
// flight are not re-enqueued.
func (c *Client) Resolve(ctx context.Context, urls []string) (map[string]Verdict, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResolveTimeout)
		defer cancel()
	}

	wanted := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		wanted = append(wanted, url)
	}

	for {
		results := make(map[string]Verdict, len(wanted))
		var toEnqueue []string
		var lookupErr error

		c.mu.Lock()
		for _, url := range wanted {
			if verdict, ok := c.cache.Get(url); ok {
				results[url] = verdict
				continue
			}
			if err, ok := c.failed[url]; ok {
				delete(c.failed, url)
				lookupErr = err
				continue
			}
			if _, ok := c.inflight[url]; ok {
				continue
			}
			c.inflight[url] = struct{}{}
			toEnqueue = append(toEnqueue, url)
		}
		signal := c.signal
		c.mu.Unlock()

		if lookupErr != nil {
			c.abandon(toEnqueue)
			return nil, fmt.Errorf("%w: %s", ErrLookupFailed, lookupErr)
		}
		if len(results) == len(wanted) {
			return results, nil
		}

		for _, url := range toEnqueue {
			select {
			case c.queue <- url:
			case <-ctx.Done():
				c.abandon(toEnqueue)
				return nil, fmt.Errorf("%w: %s", ErrLookupFailed, ctx.Err())
			case <-c.done:
				return nil, ErrClosed
			}
		}

		select {
		case <-signal:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLookupFailed, ctx.Err())
		case <-c.done:
			return nil, ErrClosed
		}
	}
}

// Close stops the consumer and releases blocked callers with ErrClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
	})
	c.wg.Wait()
}

// abandon clears in-flight markers for URLs that were never enqueued so a
// later Resolve can retry them.
func (c *Client) abandon(urls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, url := range urls {
		delete(c.inflight, url)
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		var batch []string
		select {
		case <-ctx.Done():
			return
		case url := <-c.queue:
			batch = append(batch, url)
		}
		// Greedily top up the batch without blocking, trading batch
		// fullness for lookup latency.
	drain:
		for len(batch) < c.cfg.BatchSize {
			select {
			case url := <-c.queue:
				batch = append(batch, url)
			default:
				break drain
			}
		}

		verdicts, err := c.lookup(ctx, batch)

		c.mu.Lock()
		if err != nil {
			c.logger.Error("safebrowsing lookup failed", zap.Int("batch", len(batch)), zap.Error(err))
			for _, url := range batch {
				c.failed[url] = err
				delete(c.inflight, url)
			}
		} else {
			for _, url := range batch {
				verdict := verdicts[url]
				ttl := c.cfg.SafeTTL
				if verdict.Status == StatusUnsafe && verdict.CacheFor > 0 {
					ttl = verdict.CacheFor
				}
				c.cache.Set(url, verdict, ttl)
				delete(c.inflight, url)
			}
		}
		close(c.signal)
		c.signal = make(chan struct{})
		c.mu.Unlock()
	}
}

// lookup issues one batch request, retrying with linear backoff.
func (c *Client) lookup(ctx context.Context, urls []string) (map[string]Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		verdicts, err := c.request(ctx, urls)
		if err == nil {
			return verdicts, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

type lookupRequest struct {
	Client     clientInfo `json:"client"`
	ThreatInfo threatInfo `json:"threatInfo"`
}

type clientInfo struct {
	ClientID      string `json:"clientId"`
	ClientVersion string `json:"clientVersion"`
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type threatEntry struct {
	URL string `json:"url"`
}

type lookupResponse struct {
	Matches []threatMatch `json:"matches"`
}

type threatMatch struct {
	ThreatType    string      `json:"threatType"`
	Threat        threatEntry `json:"threat"`
	CacheDuration string      `json:"cacheDuration"`
}

func (c *Client) request(ctx context.Context, urls []string) (map[string]Verdict, error) {
	entries := make([]threatEntry, 0, len(urls))
	for _, url := range urls {
		entries = append(entries, threatEntry{URL: url})
	}
	body := lookupRequest{
		Client: clientInfo{ClientID: c.cfg.ClientID, ClientVersion: c.cfg.ClientVersion},
		ThreatInfo: threatInfo{
			ThreatTypes:      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"},
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries:    entries,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"?key="+c.cfg.APIKey, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded lookupResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	verdicts := make(map[string]Verdict, len(urls))
	for _, url := range urls {
		verdicts[url] = Verdict{URL: url, Status: StatusSafe}
		for _, match := range decoded.Matches {
			if match.Threat.URL != url {
				continue
			}
			verdicts[url] = Verdict{
				URL:        url,
				Status:     StatusUnsafe,
				ThreatType: match.ThreatType,
				CacheFor:   parseCacheDuration(match.CacheDuration),
			}
			break
		}
	}
	return verdicts, nil
}

func parseCacheDuration(raw string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSuffix(raw, "s"), 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
