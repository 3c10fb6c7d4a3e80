package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
	"github.com/ad-tracker/video-aggregator-go/internal/db/models"
)

func TestVideoRepository_ExistsByExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(models.PlatformYouTube, "abc123").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewVideoRepository(mock).ExistsByExternalID(context.Background(), models.PlatformYouTube, "abc123")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVideoRepository_Create(t *testing.T) {
	newVideo := func() *models.Video {
		return &models.Video{
			ChannelID:       1,
			Platform:        models.PlatformYouTube,
			ExternalVideoID: "abc123",
			Slug:            "hello-world",
			Title:           "Hello World",
			ContentType:     models.ContentRegular,
		}
	}

	t.Run("fills id and defaults empty slices", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery("INSERT INTO videos").
			WithArgs(int64(1), models.PlatformYouTube, "abc123", "hello-world", "Hello World", "", "", "", "", "",
				models.ContentRegular, []string{}, []string{}).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

		v := newVideo()
		require.NoError(t, NewVideoRepository(mock).Create(context.Background(), v))
		assert.Equal(t, int64(42), v.ID)
		assert.NotNil(t, v.Categories)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("slug collision keeps constraint name", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("INSERT INTO videos").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: db.ConstraintVideoSlug})

		err = NewVideoRepository(mock).Create(context.Background(), newVideo())
		assert.True(t, db.IsDuplicateKey(err))
		assert.True(t, db.IsConstraint(err, db.ConstraintVideoSlug))
	})
}

func TestVideoRepository_KnownExternalIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT external_video_id FROM videos").
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"external_video_id"}).AddRow("a").AddRow("b"))

	known, err := NewVideoRepository(mock).KnownExternalIDs(context.Background(), 9)
	require.NoError(t, err)
	assert.Len(t, known, 2)
	assert.Contains(t, known, "a")
	assert.Contains(t, known, "b")
}

func TestVideoRepository_GetByIDs_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	videos, err := NewVideoRepository(mock).GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, videos)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query expected")
}

func TestVideoRepository_List_BuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("WHERE channel_id = \\$1 AND content_type = \\$2 AND \\$3 = ANY\\(categories\\) ORDER BY created_at DESC, id DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs(int64(3), models.ContentYouTubeShort, "music", 50, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err = NewVideoRepository(mock).List(context.Background(), models.VideoFilters{
		ChannelID:   3,
		ContentType: models.ContentYouTubeShort,
		Category:    "music",
		Offset:      10,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVideoRepository_UpdateClassification(t *testing.T) {
	at := time.Now()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE videos").
		WithArgs(int64(5), []string{"music"}, []string{}, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE videos").
		WithArgs(int64(6), []string{}, []string{}, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewVideoRepository(mock)
	require.NoError(t, repo.UpdateClassification(context.Background(), 5, []string{"music"}, nil, at))

	err = repo.UpdateClassification(context.Background(), 6, nil, nil, at)
	assert.True(t, db.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
