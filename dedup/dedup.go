package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/mischief-tracker/hashtag"
	"github.com/brettboylen/mischief-tracker/models"
)

// fingerprintLength is how many hex characters of the content hash are kept
const fingerprintLength = 12

// HistoryStore records which posts a source has already seen
type HistoryStore interface {
	Exists(ctx context.Context, source, identity string) (bool, error)
	// InsertIfAbsent must be a conditional write: when the identity is
	// already recorded it returns false and a nil error.
	InsertIfAbsent(ctx context.Context, source, identity string, claim models.Claim) (bool, error)
	Claims(ctx context.Context, source string) ([]models.Claim, error)
}

// Options controls how claims are extracted from admitted posts
type Options struct {
	Parser hashtag.Options
	// AuthorFallback uses the post author when the text names no handle
	AuthorFallback bool
}

// Result counts what happened to a batch of posts
type Result struct {
	Processed  int
	Verified   int
	Duplicates int
	Admitted   []models.Claim
}

// Deduplicator admits posts into a source's history at most once
type Deduplicator struct {
	store HistoryStore
	opts  Options
	log   *logrus.Logger
	now   func() time.Time
}

// NewDeduplicator creates a deduplicator backed by store
func NewDeduplicator(store HistoryStore, opts Options, log *logrus.Logger) *Deduplicator {
	return &Deduplicator{
		store: store,
		opts:  opts,
		log:   log,
		now:   time.Now,
	}
}

// Identity returns the dedup key for a post: the native id when present,
// otherwise a fingerprint of text and creation time. Undated posts are
// fingerprinted on their text alone.
func Identity(post models.RawPost) string {
	if id := strings.TrimSpace(post.NativeID); id != "" {
		return fmt.Sprintf("%s#%s", post.Platform, id)
	}
	return fmt.Sprintf("%s#%s", post.Platform, fingerprint(post.Text, post.CreatedAt))
}

func fingerprint(text string, createdAt time.Time) string {
	if createdAt.IsZero() {
		sum := md5.Sum([]byte(text))
		return hex.EncodeToString(sum[:])[:fingerprintLength]
	}
	sum := md5.Sum([]byte(text + createdAt.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// IsNew reports whether a post has not been recorded for source yet
func (d *Deduplicator) IsNew(ctx context.Context, source string, post models.RawPost) (bool, error) {
	exists, err := d.store.Exists(ctx, source, Identity(post))
	if err != nil {
		return false, fmt.Errorf("failed to check post history: %w", err)
	}
	return !exists, nil
}

// Admit records each campaign post that source has not seen before. Posts
// without the marker are dropped before their identity is recorded, and
// duplicates are skipped silently.
func (d *Deduplicator) Admit(ctx context.Context, source string, posts []models.RawPost) (Result, error) {
	result := Result{Admitted: make([]models.Claim, 0, len(posts))}

	for _, post := range posts {
		result.Processed++

		if !hashtag.HasMarker(post.Text) {
			continue
		}
		result.Verified++

		claim := d.claimFor(source, post)

		inserted, err := d.store.InsertIfAbsent(ctx, source, claim.Identity, claim)
		if err != nil {
			return result, fmt.Errorf("failed to record post %s: %w", claim.Identity, err)
		}
		if !inserted {
			result.Duplicates++
			d.log.WithFields(logrus.Fields{
				"source":  source,
				"post_id": claim.Identity,
			}).Debug("Post already recorded, skipping")
			continue
		}

		result.Admitted = append(result.Admitted, claim)
	}

	return result, nil
}

func (d *Deduplicator) claimFor(source string, post models.RawPost) models.Claim {
	parsed := hashtag.ParseWith(post.Text, d.opts.Parser)

	if parsed.Handle == hashtag.UnknownHandle && d.opts.AuthorFallback {
		if author := strings.TrimPrefix(strings.TrimSpace(post.AuthorHandle), "@"); author != "" {
			parsed.Handle = "@" + strings.ToLower(author)
		}
	}

	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		// first seen
		createdAt = d.now().UTC()
	}

	return models.Claim{
		ParsedClaim: parsed,
		Identity:    Identity(post),
		Source:      source,
		Platform:    post.Platform,
		Text:        post.Text,
		CreatedAt:   createdAt,
	}
}
