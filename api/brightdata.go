package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/mischief-tracker/models"
)

const (
	DefaultBrightDataURL = "https://api.brightdata.com"
	scrapePath           = "/datasets/v3/scrape"
	outputFields         = "error,error_code,timestamp,hashtags,description,content,user_posted,user_handle,post_id,id,date_posted"
)

// BrightDataConfig describes one Bright Data account and its datasets per platform
type BrightDataConfig struct {
	APIKey               string
	BaseURL              string
	Hashtag              string
	Datasets             map[models.Platform]string
	MaxRequestsPerMinute int
	Timeout              time.Duration
}

// BrightDataSource pulls hashtag posts from Bright Data's synchronous scrape API
type BrightDataSource struct {
	cfg        BrightDataConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// brightDataItem covers the field names used across the instagram, facebook and x datasets
type brightDataItem struct {
	ID          string   `json:"id"`
	PostID      string   `json:"post_id"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Caption     string   `json:"caption"`
	UserPosted  string   `json:"user_posted"`
	UserHandle  string   `json:"user_handle"`
	DatePosted  string   `json:"date_posted"`
	Timestamp   string   `json:"timestamp"`
	Hashtags    []string `json:"hashtags"`
	Error       string   `json:"error"`
}

// NewBrightDataSource creates a Bright Data source
func NewBrightDataSource(cfg BrightDataConfig, log *logrus.Logger) *BrightDataSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBrightDataURL
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}

	// 95% of the allowance, no burst
	perSecond := float64(cfg.MaxRequestsPerMinute) / 60.0 * 0.95

	return &BrightDataSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		log:        log,
	}
}

// Name identifies the source in history and winners
func (b *BrightDataSource) Name() string {
	return "brightdata"
}

// Fetch scrapes every configured platform dataset. A failing platform is
// logged and skipped; the fetch only fails when every platform failed.
func (b *BrightDataSource) Fetch(ctx context.Context) ([]models.RawPost, error) {
	var posts []models.RawPost
	var lastErr error
	attempted := 0

	for _, platform := range models.Platforms {
		dataset, ok := b.cfg.Datasets[platform]
		if !ok || dataset == "" {
			continue
		}
		attempted++

		got, err := b.fetchPlatform(ctx, platform, dataset)
		if err != nil {
			lastErr = err
			b.log.WithError(err).WithField("platform", platform).Warn("Bright Data platform scrape failed")
			continue
		}
		posts = append(posts, got...)
	}

	if attempted > 0 && len(posts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return posts, nil
}

func hashtagURL(platform models.Platform, tag string) string {
	switch platform {
	case models.PlatformInstagram:
		return "https://www.instagram.com/explore/tags/" + tag + "/"
	case models.PlatformFacebook:
		return "https://www.facebook.com/hashtag/" + tag
	default:
		return "https://x.com/hashtag/" + tag
	}
}

func (b *BrightDataSource) fetchPlatform(ctx context.Context, platform models.Platform, dataset string) ([]models.RawPost, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("dataset_id", dataset)
	params.Set("custom_output_fields", outputFields)
	params.Set("notify", "false")
	params.Set("include_errors", "true")
	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + scrapePath + "?" + params.Encode()

	body, err := json.Marshal(map[string]interface{}{
		"input": []map[string]string{{"url": hashtagURL(platform, b.cfg.Hashtag)}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if remaining := getHeaderAsInt(resp.Header, "X-Ratelimit-Remaining"); remaining > 0 {
		b.log.WithFields(logrus.Fields{
			"platform":  platform,
			"remaining": remaining,
		}).Debug("Bright Data rate limit headers")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, snippet)
	}

	items, err := decodeItems(raw)
	if err != nil {
		return nil, err
	}

	posts := make([]models.RawPost, 0, len(items))
	for _, item := range items {
		if item.Error != "" {
			b.log.WithField("platform", platform).WithField("error", item.Error).Debug("Skipping Bright Data error record")
			continue
		}
		posts = append(posts, item.toRawPost(platform))
	}

	b.log.WithFields(logrus.Fields{
		"platform":   platform,
		"post_count": len(posts),
	}).Info("Fetched posts from Bright Data")

	return posts, nil
}

// decodeItems accepts either a bare array or a {"data": [...]} envelope
func decodeItems(raw []byte) ([]brightDataItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []brightDataItem
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return items, nil
	}

	var envelope struct {
		Data []brightDataItem `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return envelope.Data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (item brightDataItem) toRawPost(platform models.Platform) models.RawPost {
	text := firstNonEmpty(item.Description, item.Content, item.Caption)
	// some datasets strip hashtags out of the caption
	if len(item.Hashtags) > 0 {
		tags := make([]string, 0, len(item.Hashtags))
		for _, tag := range item.Hashtags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}
			if !strings.Contains(strings.ToLower(text), strings.ToLower(tag)) {
				tags = append(tags, tag)
			}
		}
		if len(tags) > 0 {
			text = strings.TrimSpace(text + " " + strings.Join(tags, " "))
		}
	}

	return models.RawPost{
		Platform:     platform,
		NativeID:     firstNonEmpty(item.PostID, item.ID),
		Text:         text,
		AuthorHandle: firstNonEmpty(item.UserPosted, item.UserHandle),
		CreatedAt:    parseTimestamp(firstNonEmpty(item.DatePosted, item.Timestamp)),
	}
}
