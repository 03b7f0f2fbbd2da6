package dedup

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/mischief-tracker/db"
	"github.com/brettboylen/mischief-tracker/hashtag"
	"github.com/brettboylen/mischief-tracker/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var postedAt = time.Date(2025, 11, 6, 23, 50, 0, 0, time.UTC)

func TestIdentity(t *testing.T) {
	withID := models.RawPost{Platform: models.PlatformX, NativeID: "12345", Text: "#missionmischief", CreatedAt: postedAt}
	assert.Equal(t, "x#12345", Identity(withID))

	noID := models.RawPost{Platform: models.PlatformFacebook, Text: "#missionmischief", CreatedAt: postedAt}
	id := Identity(noID)
	assert.True(t, strings.HasPrefix(id, "facebook#"))
	assert.Len(t, strings.TrimPrefix(id, "facebook#"), fingerprintLength)
	assert.Equal(t, id, Identity(noID), "fingerprint is stable")

	later := noID
	later.CreatedAt = postedAt.Add(time.Second)
	assert.NotEqual(t, id, Identity(later))

	edited := noID
	edited.Text = "#missionmischief edited"
	assert.NotEqual(t, id, Identity(edited))

	blankID := noID
	blankID.NativeID = "   "
	assert.Equal(t, id, Identity(blankID))
}

func TestAdmitDropsPostsWithoutMarker(t *testing.T) {
	history := db.NewMemoryHistory()
	d := NewDeduplicator(history, Options{}, testLogger())

	posts := []models.RawPost{
		{Platform: models.PlatformInstagram, NativeID: "1", Text: "just a coffee", CreatedAt: postedAt},
		{Platform: models.PlatformInstagram, NativeID: "2", Text: "#MissionMischief #@casper", CreatedAt: postedAt},
	}

	result, err := d.Admit(context.Background(), "brightdata", posts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Verified)
	assert.Equal(t, 0, result.Duplicates)
	require.Len(t, result.Admitted, 1)
	assert.Equal(t, "@casper", result.Admitted[0].Handle)
	assert.Equal(t, "instagram#2", result.Admitted[0].Identity)
	assert.Equal(t, "brightdata", result.Admitted[0].Source)

	// the dropped post never reached the history
	exists, err := history.Exists(context.Background(), "brightdata", "instagram#1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAdmitIsIdempotent(t *testing.T) {
	history := db.NewMemoryHistory()
	d := NewDeduplicator(history, Options{}, testLogger())
	ctx := context.Background()

	post := models.RawPost{Platform: models.PlatformX, NativeID: "99", Text: "#missionmischief #@shady #missionmischiefpoints5", CreatedAt: postedAt}

	first, err := d.Admit(ctx, "brightdata", []models.RawPost{post, post})
	require.NoError(t, err)
	assert.Len(t, first.Admitted, 1)
	assert.Equal(t, 1, first.Duplicates)

	second, err := d.Admit(ctx, "brightdata", []models.RawPost{post})
	require.NoError(t, err)
	assert.Empty(t, second.Admitted)
	assert.Equal(t, 1, second.Duplicates)

	claims, err := history.Claims(ctx, "brightdata")
	require.NoError(t, err)
	assert.Len(t, claims, 1)
	assert.Equal(t, 5, claims[0].Points)
}

func TestIsNew(t *testing.T) {
	history := db.NewMemoryHistory()
	d := NewDeduplicator(history, Options{}, testLogger())
	ctx := context.Background()

	post := models.RawPost{Platform: models.PlatformX, NativeID: "7", Text: "#missionmischief", CreatedAt: postedAt}

	isNew, err := d.IsNew(ctx, "brightdata", post)
	require.NoError(t, err)
	assert.True(t, isNew)

	_, err = d.Admit(ctx, "brightdata", []models.RawPost{post})
	require.NoError(t, err)

	isNew, err = d.IsNew(ctx, "brightdata", post)
	require.NoError(t, err)
	assert.False(t, isNew)
}

func TestAdmitAuthorFallback(t *testing.T) {
	post := models.RawPost{Platform: models.PlatformInstagram, NativeID: "1", Text: "#missionmischief #realworldgame", AuthorHandle: "@Annie", CreatedAt: postedAt}

	plain := NewDeduplicator(db.NewMemoryHistory(), Options{}, testLogger())
	result, err := plain.Admit(context.Background(), "s", []models.RawPost{post})
	require.NoError(t, err)
	assert.Equal(t, hashtag.UnknownHandle, result.Admitted[0].Handle)

	withAuthor := NewDeduplicator(db.NewMemoryHistory(), Options{AuthorFallback: true}, testLogger())
	result, err = withAuthor.Admit(context.Background(), "s", []models.RawPost{post})
	require.NoError(t, err)
	assert.Equal(t, "@annie", result.Admitted[0].Handle)
}

type failingHistory struct {
	*db.MemoryHistory
}

func (failingHistory) InsertIfAbsent(context.Context, string, string, models.Claim) (bool, error) {
	return false, errors.New("table is locked")
}

func TestAdmitStoreFailure(t *testing.T) {
	d := NewDeduplicator(failingHistory{db.NewMemoryHistory()}, Options{}, testLogger())

	_, err := d.Admit(context.Background(), "s", []models.RawPost{{Platform: models.PlatformX, NativeID: "1", Text: "#missionmischief"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table is locked")
}

func TestAdmitUndatedPostOnce(t *testing.T) {
	history := db.NewMemoryHistory()
	d := NewDeduplicator(history, Options{}, testLogger())
	ctx := context.Background()

	post := models.RawPost{Platform: models.PlatformInstagram, Text: "#missionmischief #@casper #missionmischiefpoints10"}

	d.now = func() time.Time { return postedAt }
	first, err := d.Admit(ctx, "mirror", []models.RawPost{post})
	require.NoError(t, err)
	require.Len(t, first.Admitted, 1)
	assert.Equal(t, postedAt, first.Admitted[0].CreatedAt)

	d.now = func() time.Time { return postedAt.Add(time.Hour) }
	second, err := d.Admit(ctx, "mirror", []models.RawPost{post})
	require.NoError(t, err)
	assert.Empty(t, second.Admitted)
	assert.Equal(t, 1, second.Duplicates)

	claims, err := history.Claims(ctx, "mirror")
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}
