package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

// HTMLSource reads posts from a public hashtag page. Each element matching
// the post selector is one post; data attributes carry its id, author and time.
type HTMLSource struct {
	name       string
	platform   models.Platform
	url        string
	selector   string
	httpClient *http.Client
	log        *logrus.Logger
}

// DefaultPostSelector matches article-style post markup
const DefaultPostSelector = "article, [data-post-id]"

// NewHTMLSource creates a page-scraping source
func NewHTMLSource(name string, platform models.Platform, pageURL string, log *logrus.Logger) *HTMLSource {
	return &HTMLSource{
		name:       name,
		platform:   platform,
		url:        pageURL,
		selector:   DefaultPostSelector,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		log:        log,
	}
}

func (h *HTMLSource) Name() string {
	return h.name
}

func (h *HTMLSource) Fetch(ctx context.Context) ([]models.RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "mischief-tracker/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	doc.Find("br").AfterHtml("\n")

	posts := make([]models.RawPost, 0)
	doc.Find(h.selector).Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Find("[data-post-text]").Text())
		if text == "" {
			text = strings.TrimSpace(s.Text())
		}
		if text == "" {
			return
		}

		created := s.AttrOr("data-created-at", "")
		if created == "" {
			created = s.Find("time").AttrOr("datetime", "")
		}

		posts = append(posts, models.RawPost{
			Platform:     h.platform,
			NativeID:     s.AttrOr("data-post-id", ""),
			Text:         text,
			AuthorHandle: s.AttrOr("data-author", ""),
			CreatedAt:    parseTimestamp(created),
		})
	})

	h.log.WithFields(logrus.Fields{
		"source":     h.name,
		"url":        h.url,
		"post_count": len(posts),
	}).Info("Fetched posts from page")

	return posts, nil
}
