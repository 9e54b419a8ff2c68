package feeds

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/models"
)

func ptr[T any](v T) *T { return &v }

func TestFeedLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(Config{DB: db})

	owner := testutil.CreateUser(t, db, "owner", 0)
	stranger := testutil.CreateUser(t, db, "stranger", 0)

	_, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "   "})
	assert.ErrorIs(err, ErrInvalidName)
	_, err = s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: strings.Repeat("x", 101)})
	assert.ErrorIs(err, ErrInvalidName)
	_, err = s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "ok", Description: ptr(strings.Repeat("d", 501))})
	assert.ErrorIs(err, ErrInvalidDescription)

	public, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: " Best plays "})
	require.NoError(t, err)
	assert.Equal("Best plays", public.Name)
	assert.True(public.IsPublic)

	private, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "Drafts", IsPublic: ptr(false)})
	require.NoError(t, err)
	assert.False(private.IsPublic)

	// private feeds are hidden from everyone but the owner
	_, err = s.GetFeed(ctx, private.ID, nil)
	assert.ErrorIs(err, ErrNotFound)
	_, err = s.GetFeed(ctx, private.ID, &stranger.ID)
	assert.ErrorIs(err, ErrNotFound)
	got, err := s.GetFeed(ctx, private.ID, &owner.ID)
	require.NoError(t, err)
	assert.Equal("Drafts", got.Name)

	mine, err := s.ListUserFeeds(ctx, owner.ID, &owner.ID)
	require.NoError(t, err)
	assert.Len(mine, 2)
	theirs, err := s.ListUserFeeds(ctx, owner.ID, &stranger.ID)
	require.NoError(t, err)
	assert.Len(theirs, 1)

	_, err = s.UpdateFeed(ctx, private.ID, stranger.ID, UpdateFeedRequest{Name: ptr("mine now")})
	assert.ErrorIs(err, ErrForbidden)
	updated, err := s.UpdateFeed(ctx, private.ID, owner.ID, UpdateFeedRequest{Name: ptr("Published"), IsPublic: ptr(true)})
	require.NoError(t, err)
	assert.True(updated.IsPublic)
	got, err = s.GetFeed(ctx, private.ID, nil)
	require.NoError(t, err)
	assert.Equal("Published", got.Name)

	// going private again sticks
	_, err = s.UpdateFeed(ctx, private.ID, owner.ID, UpdateFeedRequest{IsPublic: ptr(false)})
	require.NoError(t, err)
	_, err = s.GetFeed(ctx, private.ID, nil)
	assert.ErrorIs(err, ErrNotFound)

	assert.ErrorIs(s.DeleteFeed(ctx, public.ID, stranger.ID), ErrForbidden)
	require.NoError(t, s.DeleteFeed(ctx, public.ID, owner.ID))
	_, err = s.GetFeed(ctx, public.ID, &owner.ID)
	assert.ErrorIs(err, ErrNotFound)
}

func TestFeedClips(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(Config{DB: db})

	owner := testutil.CreateUser(t, db, "owner", 0)
	other := testutil.CreateUser(t, db, "other", 0)
	feed, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "clips"})
	require.NoError(t, err)

	a := testutil.CreateClip(t, db, "a", time.Hour, nil)
	b := testutil.CreateClip(t, db, "b", time.Hour, nil)
	c := testutil.CreateClip(t, db, "c", time.Hour, nil)

	for i, clip := range []*models.Clip{a, b, c} {
		item, err := s.AddClip(ctx, feed.ID, owner.ID, clip.ID)
		require.NoError(t, err)
		assert.Equal(i, item.Position)
	}
	_, err = s.AddClip(ctx, feed.ID, owner.ID, a.ID)
	assert.ErrorIs(err, ErrDuplicateClip)
	_, err = s.AddClip(ctx, feed.ID, owner.ID, uuid.New())
	assert.ErrorIs(err, ErrClipNotFound)
	_, err = s.AddClip(ctx, feed.ID, other.ID, a.ID)
	assert.ErrorIs(err, ErrForbidden)

	titles := func() []string {
		clips, err := s.FeedClips(ctx, feed.ID, nil)
		require.NoError(t, err)
		var out []string
		for _, fc := range clips {
			out = append(out, fc.Clip.Title)
		}
		return out
	}
	assert.Equal([]string{"a", "b", "c"}, titles())

	require.NoError(t, s.ReorderClips(ctx, feed.ID, owner.ID, []uuid.UUID{c.ID, a.ID, b.ID}))
	assert.Equal([]string{"c", "a", "b"}, titles())

	assert.ErrorIs(s.ReorderClips(ctx, feed.ID, owner.ID, []uuid.UUID{c.ID, a.ID}), ErrInvalidOrder)
	assert.ErrorIs(s.ReorderClips(ctx, feed.ID, owner.ID, []uuid.UUID{c.ID, c.ID, a.ID}), ErrInvalidOrder)

	require.NoError(t, s.RemoveClip(ctx, feed.ID, owner.ID, a.ID))
	assert.ErrorIs(s.RemoveClip(ctx, feed.ID, owner.ID, a.ID), ErrClipNotInFeed)

	// removed clips drop out of the listing
	require.NoError(t, db.Model(&models.Clip{}).Where("id = ?", b.ID).Update("is_removed", true).Error)
	assert.Equal([]string{"c"}, titles())

	// new clips go after the current last position
	item, err := s.AddClip(ctx, feed.ID, owner.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(3, item.Position)
}

func TestFollowAndDiscover(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(Config{DB: db})

	owner := testutil.CreateUser(t, db, "owner", 0)
	fans := []*models.User{
		testutil.CreateUser(t, db, "fan1", 0),
		testutil.CreateUser(t, db, "fan2", 0),
	}

	popular, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "Popular speedruns"})
	require.NoError(t, err)
	quiet, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "Quiet 100% runs", Description: ptr("cozy")})
	require.NoError(t, err)
	hidden, err := s.CreateFeed(ctx, owner.ID, CreateFeedRequest{Name: "Hidden", IsPublic: ptr(false)})
	require.NoError(t, err)

	assert.ErrorIs(s.Follow(ctx, owner.ID, popular.ID), ErrSelfFollow)
	assert.ErrorIs(s.Follow(ctx, fans[0].ID, hidden.ID), ErrPrivateFeed)
	assert.ErrorIs(s.Follow(ctx, fans[0].ID, uuid.New()), ErrNotFound)

	for _, f := range fans {
		require.NoError(t, s.Follow(ctx, f.ID, popular.ID))
	}
	// following twice does not double count
	require.NoError(t, s.Follow(ctx, fans[0].ID, popular.ID))
	got, err := s.GetFeed(ctx, popular.ID, nil)
	require.NoError(t, err)
	assert.Equal(2, got.FollowerCount)

	following, err := s.IsFollowing(ctx, fans[0].ID, popular.ID)
	require.NoError(t, err)
	assert.True(following)

	followed, err := s.FollowedFeeds(ctx, fans[1].ID)
	require.NoError(t, err)
	require.Len(t, followed, 1)
	assert.Equal(popular.ID, followed[0].ID)

	discovered, err := s.DiscoverPublicFeeds(ctx, 0, -1)
	require.NoError(t, err)
	require.Len(t, discovered, 2)
	assert.Equal(popular.ID, discovered[0].ID)
	assert.Equal("owner", discovered[0].OwnerUsername)
	assert.Equal(quiet.ID, discovered[1].ID)

	require.NoError(t, s.Unfollow(ctx, fans[1].ID, popular.ID))
	require.NoError(t, s.Unfollow(ctx, fans[1].ID, popular.ID))
	got, err = s.GetFeed(ctx, popular.ID, nil)
	require.NoError(t, err)
	assert.Equal(1, got.FollowerCount)

	found, err := s.SearchFeeds(ctx, "100%", 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(quiet.ID, found[0].ID)

	found, err = s.SearchFeeds(ctx, "SPEED", 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(popular.ID, found[0].ID)

	found, err = s.SearchFeeds(ctx, "hidden", 10, 0)
	require.NoError(t, err)
	assert.Empty(found)
}
