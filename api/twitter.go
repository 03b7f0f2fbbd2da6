package api

import (
	"context"
	"fmt"

	twitterscraper "github.com/n0madic/twitter-scraper"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/models"
)

// DefaultMaxTweets bounds a single X search
const DefaultMaxTweets = 200

type tweetSearcher interface {
	SearchTweets(ctx context.Context, query string, maxTweetsNbr int) <-chan *twitterscraper.TweetResult
}

// TwitterSource searches X for the game hashtag without API credentials
type TwitterSource struct {
	scraper   tweetSearcher
	hashtag   string
	maxTweets int
	log       *logrus.Logger
}

// NewTwitterSource creates an X source
func NewTwitterSource(hashtag string, maxTweets int, log *logrus.Logger) *TwitterSource {
	if maxTweets <= 0 {
		maxTweets = DefaultMaxTweets
	}
	return &TwitterSource{
		scraper:   twitterscraper.New(),
		hashtag:   hashtag,
		maxTweets: maxTweets,
		log:       log,
	}
}

func (t *TwitterSource) Name() string {
	return "x"
}

// Fetch drains one search. Tweets read before an error are kept.
func (t *TwitterSource) Fetch(ctx context.Context) ([]models.RawPost, error) {
	query := "#" + t.hashtag
	posts := make([]models.RawPost, 0)

	for result := range t.scraper.SearchTweets(ctx, query, t.maxTweets) {
		if result.Error != nil {
			if len(posts) == 0 {
				return nil, fmt.Errorf("search %q: %w", query, result.Error)
			}
			t.log.WithError(result.Error).WithField("kept", len(posts)).Warn("X search ended early")
			break
		}

		handle := ""
		if result.Username != "" {
			handle = "@" + result.Username
		}
		posts = append(posts, models.RawPost{
			Platform:     models.PlatformX,
			NativeID:     result.ID,
			Text:         result.Text,
			AuthorHandle: handle,
			CreatedAt:    result.TimeParsed.UTC(),
		})
	}

	t.log.WithFields(logrus.Fields{
		"query":      query,
		"post_count": len(posts),
	}).Info("Fetched posts from X")

	return posts, nil
}
