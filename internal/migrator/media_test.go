package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/storesync/internal/models"
)

func TestMediaMigrator_Migrate(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	sourceMux := http.NewServeMux()
	sourceMux.HandleFunc("/admin/api/2024-01/graphql.json", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]interface{} `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		// Two pages: the first carries a cursor, the second ends.
		if req.Variables["after"] == nil {
			fmt.Fprintf(w, `{"data":{"files":{"edges":[
				{"node":{"id":"gid://shopify/MediaImage/71","alt":"Hero","image":{"originalSrc":"%s/cdn/hero.png"}}},
				{"node":{"id":"gid://shopify/GenericFile/72"}}
			],"pageInfo":{"hasNextPage":true,"endCursor":"cur1"}}}}`, "http://"+r.Host)
			return
		}
		assert.Equal(t, "cur1", req.Variables["after"])
		fmt.Fprintf(w, `{"data":{"files":{"edges":[
			{"node":{"id":"gid://shopify/Video/73","sources":[{"url":"%s/cdn/clip.mp4"}]}}
		],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, "http://"+r.Host)
	})
	sourceMux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("bytes"))
	})
	source := httptest.NewServer(sourceMux)
	defer source.Close()

	var created int
	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		created++
		fmt.Fprintf(w, `{"data":{"fileCreate":{"files":[{"id":"gid://shopify/MediaImage/%d"}],"userErrors":[]}}}`, 600+created)
	}))
	defer destination.Close()

	env := testEnv(t, db, source, destination)
	m, err := New(models.ModuleMedia, env)
	require.NoError(t, err)

	summary, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	// The URL-less generic file is skipped with a warning.
	assert.Equal(t, 2, created)

	store := NewCheckpointStore(db)
	image, err := store.Get(ctx, 1, models.ModuleMedia, "71")
	require.NoError(t, err)
	require.NotNil(t, image)
	assert.Equal(t, "601", image.DestinationID)

	video, err := store.Get(ctx, 1, models.ModuleMedia, "73")
	require.NoError(t, err)
	require.NotNil(t, video)
	assert.True(t, video.Migrated())

	missing, err := store.Get(ctx, 1, models.ModuleMedia, "72")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGidSuffix(t *testing.T) {
	assert.Equal(t, "123", gidSuffix("gid://shopify/MediaImage/123"))
	assert.Equal(t, "plain", gidSuffix("plain"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "hero.png", fileName("https://cdn.example.com/files/hero.png?v=2"))
	assert.Equal(t, "clip.mp4", fileName("https://cdn.example.com/clip.mp4"))
}

func TestFileSourceURL(t *testing.T) {
	t.Run("prefers original src", func(t *testing.T) {
		f := &mediaFile{URL: "generic"}
		f.Image = &struct {
			URL         string `json:"url"`
			OriginalSrc string `json:"originalSrc"`
		}{URL: "image-url", OriginalSrc: "original"}
		assert.Equal(t, "original", fileSourceURL(f))
	})

	t.Run("falls back to video source", func(t *testing.T) {
		f := &mediaFile{}
		f.Sources = []struct {
			URL string `json:"url"`
		}{{URL: "video-url"}}
		assert.Equal(t, "video-url", fileSourceURL(f))
	})

	t.Run("empty when nothing is set", func(t *testing.T) {
		assert.Empty(t, fileSourceURL(&mediaFile{}))
	})
}
