package migrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

func TestThemeMigrator_Migrate(t *testing.T) {
	ctx := context.Background()

	t.Run("copies the published theme and its assets", func(t *testing.T) {
		db := setupTestDB(t)

		sourceMux := http.NewServeMux()
		sourceMux.HandleFunc("/admin/api/2024-01/themes.json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"themes":[{"id":1,"name":"Retired","role":"unpublished"},{"id":2,"name":"Dawn","role":"main"}]}`))
		})
		sourceMux.HandleFunc("/admin/api/2024-01/themes/2/assets.json", func(w http.ResponseWriter, r *http.Request) {
			key := r.URL.Query().Get("asset[key]")
			switch key {
			case "":
				w.Write([]byte(`{"assets":[{"key":"layout/theme.liquid"},{"key":"assets/logo.png"}]}`))
			case "layout/theme.liquid":
				w.Write([]byte(`{"asset":{"key":"layout/theme.liquid","value":"<html></html>"}}`))
			case "assets/logo.png":
				w.Write([]byte(`{"asset":{"key":"assets/logo.png","attachment":"cGpn"}}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		source := httptest.NewServer(sourceMux)
		defer source.Close()

		var mu sync.Mutex
		uploads := map[string]map[string]interface{}{}

		destMux := http.NewServeMux()
		destMux.HandleFunc("/admin/api/2024-01/themes.json", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Theme map[string]interface{} `json:"theme"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "Dawn (Migrated)", body.Theme["name"])
			assert.Equal(t, "unpublished", body.Theme["role"])
			w.Write([]byte(`{"theme":{"id":42,"name":"Dawn (Migrated)","role":"unpublished"}}`))
		})
		destMux.HandleFunc("/admin/api/2024-01/themes/42/assets.json", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Asset map[string]interface{} `json:"asset"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			uploads[body.Asset["key"].(string)] = body.Asset
			mu.Unlock()
			w.Write([]byte(`{"asset":{}}`))
		})
		destination := httptest.NewServer(destMux)
		defer destination.Close()

		env := testEnv(t, db, source, destination)
		m, err := New(models.ModuleTheme, env)
		require.NoError(t, err)

		summary, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.True(t, summary.Succeeded)
		assert.Equal(t, 2, summary.Total)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, uploads, 2)
		assert.Equal(t, "<html></html>", uploads["layout/theme.liquid"]["value"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("pjg")), uploads["assets/logo.png"]["attachment"])

		// The theme bar always lands on 100.
		snapshot, err := env.Progress.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100, snapshot[models.ModuleTheme].Percentage)
	})

	t.Run("no published theme is a module fatal error", func(t *testing.T) {
		db := setupTestDB(t)

		source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"themes":[{"id":1,"name":"Draft","role":"unpublished"}]}`))
		}))
		defer source.Close()
		destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer destination.Close()

		env := testEnv(t, db, source, destination)
		m, err := New(models.ModuleTheme, env)
		require.NoError(t, err)

		_, err = m.Migrate(ctx)
		require.Error(t, err)
		assert.True(t, utils.IsModuleError(err))
	})
}
