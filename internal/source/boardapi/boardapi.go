// Package boardapi fetches listings from an Adzuna-style job board search
// API: JSON pages requested with app credentials until a short page signals
// the end.
package boardapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kvinther/job-agent/internal/source"
)

const (
	defaultPageSize = 50
	defaultMaxPages = 3
	httpTimeout     = 15 * time.Second
)

type Config struct {
	Name     string   `mapstructure:"name"`
	BaseURL  string   `mapstructure:"base-url"`
	AppID    string   `mapstructure:"app-id"`
	AppKey   string   `mapstructure:"app-key"`
	Country  string   `mapstructure:"country"`
	What     []string `mapstructure:"what"`
	Where    string   `mapstructure:"where"`
	MaxPages int      `mapstructure:"max-pages"`
}

// Connector queries one job board API account for every configured search
// term. Missing credentials make Fetch a silent no-op so a half-configured
// deployment still runs its other sources.
type Connector struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "boardapi"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Connector{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

func (c *Connector) ID() string { return c.cfg.Name }

type searchResponse struct {
	Results []searchResult `json:"results"`
	Count   int            `json:"count"`
}

type searchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	Category struct {
		Label string `json:"label"`
	} `json:"category"`
	RedirectURL string `json:"redirect_url"`
	Created     string `json:"created"`
}

// Fetch retrieves every configured search term, paging until a short page.
func (c *Connector) Fetch(ctx context.Context) ([]source.Record, error) {
	if c.cfg.AppID == "" || c.cfg.AppKey == "" {
		c.logger.Warn("board api credentials not set, skipping source",
			zap.String("source", c.ID()),
		)
		return nil, nil
	}

	var records []source.Record
	for _, term := range c.cfg.What {
		for page := 1; page <= c.cfg.MaxPages; page++ {
			batch, err := c.fetchPage(ctx, term, page)
			if err != nil {
				return nil, fmt.Errorf("search %q page %d: %w", term, page, err)
			}
			records = append(records, batch...)
			if len(batch) < defaultPageSize {
				break
			}
		}
	}

	c.logger.Debug("board api fetch complete",
		zap.String("source", c.ID()),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func (c *Connector) fetchPage(ctx context.Context, term string, page int) ([]source.Record, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", c.cfg.BaseURL, c.cfg.Country, page)

	params := url.Values{}
	params.Set("app_id", c.cfg.AppID)
	params.Set("app_key", c.cfg.AppKey)
	params.Set("results_per_page", strconv.Itoa(defaultPageSize))
	params.Set("what", term)
	params.Set("where", c.cfg.Where)
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("board api returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	records := make([]source.Record, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		records = append(records, source.Record{
			Source: c.ID(),
			Fields: map[string]any{
				"title":       r.Title,
				"company":     r.Company.DisplayName,
				"location":    r.Location.DisplayName,
				"sector":      r.Category.Label,
				"url":         r.RedirectURL,
				"description": r.Description,
				"posted_at":   r.Created,
			},
		})
	}

	return records, nil
}
