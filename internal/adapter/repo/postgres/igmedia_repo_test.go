package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trawlhq/trawl/internal/adapter/repo/postgres"
	"github.com/trawlhq/trawl/internal/domain"
)

func TestIGMediaRepo_Upsert_TableSelection(t *testing.T) {
	tests := []struct {
		name  string
		kind  domain.MediaKind
		table string
	}{
		{"reel", domain.MediaReel, "reels"},
		{"post", domain.MediaPost, "posts_ig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}}
			repo := postgres.NewIGMediaRepo(pool)

			created, err := repo.Upsert(context.Background(), domain.IGMedia{
				MediaPK:   "pk-1",
				Kind:      tt.kind,
				CreatorID: "creator-1",
				ScrapedAt: time.Now().UTC(),
			})
			require.NoError(t, err)
			assert.True(t, created)
			require.Len(t, pool.calls, 1)
			assert.Contains(t, pool.calls[0].sql, "INSERT INTO "+tt.table)
			assert.Contains(t, pool.calls[0].sql, "RETURNING (xmax = 0)")
		})
	}
}

func TestIGMediaRepo_Upsert_ViralTimestampWriteOnce(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = false
		return nil
	}}}
	repo := postgres.NewIGMediaRepo(pool)

	created, err := repo.Upsert(context.Background(), domain.IGMedia{
		MediaPK: "pk-1",
		Kind:    domain.MediaReel,
		IsViral: true,
	})
	require.NoError(t, err)
	assert.False(t, created)
	sql := pool.calls[0].sql
	assert.Contains(t, sql, "reels.viral_detected_at IS NULL")
	assert.Contains(t, sql, "ELSE reels.viral_detected_at END")
}

func TestIGMediaRepo_CountByCreator(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*int)) = 7
		return nil
	}}}
	repo := postgres.NewIGMediaRepo(pool)

	n, err := repo.CountByCreator(context.Background(), "creator-1", domain.MediaReel)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Contains(t, pool.calls[0].sql, "FROM reels")
}

func TestIGMediaRepo_Upsert_ScanError(t *testing.T) {
	pool := &poolStub{row: rowStub{scan: func(_ ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewIGMediaRepo(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := repo.Upsert(ctx, domain.IGMedia{MediaPK: "pk-1", Kind: domain.MediaPost})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=igmedia.upsert")
}
