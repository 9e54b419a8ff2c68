package reputation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/models"
)

func TestFavorites(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)

	fan := testutil.CreateUser(t, db, "fan", 0)
	other := testutil.CreateUser(t, db, "other", 0)
	first := testutil.CreateClip(t, db, "first", 2*time.Hour, nil)
	second := testutil.CreateClip(t, db, "second", time.Hour, nil)

	favoriteCount := func(id uuid.UUID) int {
		var c models.Clip
		require.NoError(t, db.Where("id = ?", id).Take(&c).Error)
		return c.FavoriteCount
	}

	res, err := s.AddFavorite(ctx, fan.ID, first.ID)
	require.NoError(t, err)
	assert.True(res.IsFavorited)
	assert.Equal(1, res.FavoriteCount)

	// favoriting again changes nothing
	res, err = s.AddFavorite(ctx, fan.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(1, res.FavoriteCount)
	assert.Equal(1, favoriteCount(first.ID))

	_, err = s.AddFavorite(ctx, other.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(2, favoriteCount(first.ID))

	s.now = func() time.Time { return time.Now().Add(time.Minute) }
	_, err = s.AddFavorite(ctx, fan.ID, second.ID)
	require.NoError(t, err)

	fav, err := s.IsFavorited(ctx, fan.ID, second.ID)
	require.NoError(t, err)
	assert.True(fav)

	clips, total, err := s.ListFavorites(ctx, fan.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(int64(2), total)
	require.Len(t, clips, 2)
	assert.Equal(second.ID, clips[0].ID)
	assert.Equal(first.ID, clips[1].ID)

	// hidden clips drop out of the list
	require.NoError(t, db.Model(&models.Clip{}).Where("id = ?", second.ID).Update("is_hidden", true).Error)
	clips, total, err = s.ListFavorites(ctx, fan.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(int64(1), total)
	assert.Len(clips, 1)

	res, err = s.RemoveFavorite(ctx, fan.ID, first.ID)
	require.NoError(t, err)
	assert.False(res.IsFavorited)
	assert.Equal(1, res.FavoriteCount)

	res, err = s.RemoveFavorite(ctx, fan.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(1, res.FavoriteCount)
	assert.Equal(1, favoriteCount(first.ID))

	_, err = s.AddFavorite(ctx, fan.ID, uuid.New())
	assert.ErrorIs(err, ErrClipNotFound)

	require.NoError(t, db.Model(&models.Clip{}).Where("id = ?", first.ID).Update("is_removed", true).Error)
	_, err = s.AddFavorite(ctx, fan.ID, first.ID)
	assert.ErrorIs(err, ErrClipNotFound)
	// removed clips can still be unfavorited
	res, err = s.RemoveFavorite(ctx, other.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(0, res.FavoriteCount)
}

func TestListComments(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)

	author := testutil.CreateUser(t, db, "author", 0)
	viewer := testutil.CreateUser(t, db, "viewer", 0)
	clip := testutil.CreateClip(t, db, "clip", time.Hour, nil)

	older := testutil.CreateComment(t, db, clip, author, "first!")
	require.NoError(t, db.Model(older).Update("created_at", time.Now().Add(-time.Minute)).Error)
	popular := testutil.CreateComment(t, db, clip, author, "great play")
	removed := testutil.CreateComment(t, db, clip, author, "something rude")
	require.NoError(t, db.Model(removed).Updates(map[string]any{
		"is_removed":     true,
		"removed_reason": "toxicity",
		"created_at":     time.Now().Add(-2 * time.Minute),
	}).Error)

	reply := &models.Comment{
		ID:              uuid.New(),
		ClipID:          clip.ID,
		UserID:          viewer.ID,
		ParentCommentID: &popular.ID,
		Content:         "agreed",
	}
	require.NoError(t, db.Create(reply).Error)

	_, err := s.VoteComment(ctx, viewer.ID, popular.ID, models.VoteDirUp)
	require.NoError(t, err)

	best, total, err := s.ListComments(ctx, clip.ID, CommentListOptions{Viewer: &viewer.ID})
	require.NoError(t, err)
	assert.Equal(int64(3), total)
	require.Len(t, best, 3)
	assert.Equal(popular.ID, best[0].ID)
	assert.Equal(1, best[0].ReplyCount)
	assert.Equal(models.VoteDirUp, best[0].UserVote)
	assert.Equal("author", best[0].AuthorUsername)

	old, _, err := s.ListComments(ctx, clip.ID, CommentListOptions{Sort: CommentSortOld})
	require.NoError(t, err)
	require.Len(t, old, 3)
	assert.Equal(removed.ID, old[0].ID)
	assert.Equal("[removed]", old[0].Content)
	assert.Nil(old[0].RemovedReason)
	assert.Equal(older.ID, old[1].ID)
	assert.Equal(models.VoteDirNone, old[2].UserVote)

	replies, total, err := s.ListComments(ctx, clip.ID, CommentListOptions{ParentID: &popular.ID})
	require.NoError(t, err)
	assert.Equal(int64(1), total)
	require.Len(t, replies, 1)
	assert.Equal("agreed", replies[0].Content)

	_, _, err = s.ListComments(ctx, clip.ID, CommentListOptions{Sort: "controversial"})
	assert.ErrorIs(err, ErrInvalidCommentSort)

	_, _, err = s.ListComments(ctx, uuid.New(), CommentListOptions{})
	assert.ErrorIs(err, ErrClipNotFound)
}
