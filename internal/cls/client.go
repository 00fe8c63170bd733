package cls

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"clsrelay/pkg/logx"
)

const defaultBaseURL = "https://www.cls.cn/nodeapi/updateTelegraphList"

// Fixed client identity sent with every request; the signature covers these.
var appParams = map[string]string{
	"app_name": "CailianpressWeb",
	"os":       "web",
	"sv":       "7.7.5",
}

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// ClientConfig controls the telegraph fetcher.
type ClientConfig struct {
	BaseURL  string
	ProxyURL string

	Timeout    time.Duration
	RetryMax   int
	RetryDelay time.Duration
	// MinInterval is the floor between two upstream requests.
	MinInterval time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.MinInterval <= 0 {
		c.MinInterval = time.Second
	}
	return c
}

// Client fetches the telegraph roll.
type Client struct {
	log      logx.Logger
	cfg      ClientConfig
	httpc    *http.Client
	lim      *rate.Limiter
	classify *Classifier
}

func NewClient(cfg ClientConfig, classify *Classifier, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	if classify == nil {
		classify = NewClassifier(nil)
	}

	transport := http.DefaultTransport
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("cls proxy url: %w", err)
		}
		transport = &http.Transport{Proxy: http.ProxyURL(proxy)}
	}

	return &Client{
		log:      log,
		cfg:      cfg,
		httpc:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		lim:      rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		classify: classify,
	}, nil
}

// sign derives the request signature: the sorted k=v query string is hashed
// with sha1, and the hex digest of that is hashed again with md5.
func sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	joined := strings.Join(pairs, "&")

	sha := fmt.Sprintf("%x", sha1.Sum([]byte(joined)))
	return fmt.Sprintf("%x", md5.Sum([]byte(sha)))
}

func (c *Client) requestURL() string {
	q := url.Values{}
	for k, v := range appParams {
		q.Set(k, v)
	}
	q.Set("sign", sign(appParams))
	return c.cfg.BaseURL + "?" + q.Encode()
}

// adFlag tolerates both boolean and numeric is_ad encodings.
type adFlag bool

func (a *adFlag) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	*a = s != "false" && s != "0" && s != "null" && s != `""`
	return nil
}

type rollItem struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
	Brief string      `json:"brief"`
	CTime json.Number `json:"ctime"`
	IsAd  adFlag      `json:"is_ad"`
}

type rollResponse struct {
	Error int `json:"error"`
	Data  struct {
		RollData []rollItem `json:"roll_data"`
	} `json:"data"`
}

// Fetch returns the current telegraph roll, ads filtered out and items
// classified. Transient failures are retried with a short randomized delay.
func (c *Client) Fetch(ctx context.Context) ([]Telegram, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryMax; attempt++ {
		if err := c.lim.Wait(ctx); err != nil {
			return nil, err
		}

		items, err := c.fetchOnce(ctx)
		if err == nil {
			c.log.Debug("telegraph roll fetched", logx.Int("items", len(items)))
			return items, nil
		}
		lastErr = err
		c.log.Warn("telegraph fetch failed",
			logx.Int("attempt", attempt), logx.Err(err))

		if attempt >= c.cfg.RetryMax {
			break
		}
		delay := c.cfg.RetryDelay + time.Duration(rand.Int63n(int64(2*time.Second)))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, fmt.Errorf("telegraph fetch: %w", lastErr)
}

func (c *Client) fetchOnce(ctx context.Context) ([]Telegram, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, fmt.Errorf("status %d", res.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var rr rollResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode roll: %w", err)
	}
	if rr.Error != 0 {
		return nil, fmt.Errorf("upstream error code %d", rr.Error)
	}

	items := make([]Telegram, 0, len(rr.Data.RollData))
	for _, it := range rr.Data.RollData {
		if bool(it.IsAd) {
			continue
		}
		id := it.ID.String()
		if id == "" || id == "0" {
			continue
		}
		content := it.Brief
		if content == "" {
			content = it.Title
		}
		ts, _ := it.CTime.Int64()

		items = append(items, Telegram{
			ID:        id,
			Title:     it.Title,
			Content:   content,
			URL:       detailURL(id),
			Important: c.classify.Important(it.Title + content),
			Timestamp: ts,
		})
	}
	return items, nil
}
