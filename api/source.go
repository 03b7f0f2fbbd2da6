package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/brettboylen/mischief-tracker/models"
)

// Source acquires raw posts for one scraper. Sources own their timeouts.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.RawPost, error)
}

// parseTimestamp accepts any layout the scrapers emit. A missing or unreadable
// value yields the zero time so a post's fingerprint stays stable across runs.
func parseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func getHeaderAsInt(header http.Header, name string) int {
	value := header.Get(name)
	if value == "" {
		return 0
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}

	return intValue
}
