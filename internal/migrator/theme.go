package migrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

// themeMigrator copies the published theme and its assets. Asset uploads
// are best effort: a theme with a few missing assets is still usable, so
// individual asset failures are recorded as warnings rather than failing
// the module.
type themeMigrator struct {
	env *Env
}

func (m *themeMigrator) Module() models.Module {
	return models.ModuleTheme
}

type theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type themeAsset struct {
	Key         string `json:"key"`
	Value       string `json:"value,omitempty"`
	Attachment  string `json:"attachment,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	PublicURL   string `json:"public_url,omitempty"`
	Src         string `json:"src,omitempty"`
}

func (m *themeMigrator) Migrate(ctx context.Context) (*Summary, error) {
	module := m.Module()
	m.env.Recorder.Info(ctx, module, "Starting theme migration", nil)

	var themes struct {
		Themes []theme `json:"themes"`
	}
	if err := m.env.Source.Get(ctx, "/themes.json", &themes); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to list source themes", err)
	}

	var active *theme
	for i := range themes.Themes {
		if themes.Themes[i].Role == "main" {
			active = &themes.Themes[i]
			break
		}
	}
	if active == nil {
		return nil, utils.WrapModuleError(module.String(), "no published theme found on source store", nil)
	}

	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Migrating theme: %s", active.Name), nil)
	m.env.Progress.Update(ctx, module, 10, 100)

	// The copy is created unpublished so the merchant can review it
	// before switching storefronts.
	var created struct {
		Theme theme `json:"theme"`
	}
	body := map[string]interface{}{
		"theme": map[string]interface{}{
			"name": fmt.Sprintf("%s (Migrated)", active.Name),
			"role": "unpublished",
		},
	}
	if err := m.env.Destination.Post(ctx, "/themes.json", body, &created); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to create destination theme", err)
	}

	m.env.Progress.Update(ctx, module, 20, 100)

	var assets struct {
		Assets []themeAsset `json:"assets"`
	}
	if err := m.env.Source.Get(ctx, fmt.Sprintf("/themes/%d/assets.json", active.ID), &assets); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to list theme assets", err)
	}

	total := len(assets.Assets)
	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Found %d theme assets to copy", total), nil)

	for i, ref := range assets.Assets {
		if err := m.env.checkGate(ctx); err != nil {
			return nil, err
		}

		if err := m.copyAsset(ctx, active.ID, created.Theme.ID, ref.Key); err != nil {
			m.env.Recorder.Warning(ctx, module, fmt.Sprintf("Failed to copy asset: %s", ref.Key), models.LogMetadata{
				"error": err.Error(),
			})
		}

		// Asset copying spans the 20-100 band of the module bar.
		m.env.Progress.Update(ctx, module, 20+((i+1)*80)/total, 100)
	}

	m.env.Progress.Update(ctx, module, 100, 100)
	m.env.Recorder.Success(ctx, module, fmt.Sprintf("Theme migration completed: %s", created.Theme.Name), models.LogMetadata{
		"assets": total,
	})

	return &Summary{Succeeded: true, Total: total, Processed: total}, nil
}

// copyAsset fetches one asset with its content and uploads it to the
// destination theme. Text assets carry value, binary assets carry a
// base64 attachment; assets served off the CDN are downloaded first.
func (m *themeMigrator) copyAsset(ctx context.Context, sourceThemeID, destThemeID int64, key string) error {
	var detail struct {
		Asset themeAsset `json:"asset"`
	}
	path := fmt.Sprintf("/themes/%d/assets.json?asset[key]=%s", sourceThemeID, url.QueryEscape(key))
	if err := m.env.Source.Get(ctx, path, &detail); err != nil {
		return err
	}

	asset := detail.Asset
	upload := map[string]interface{}{"key": key}

	switch {
	case asset.Value != "":
		upload["value"] = asset.Value
	case asset.Attachment != "":
		upload["attachment"] = asset.Attachment
	case asset.PublicURL != "" || asset.Src != "":
		src := asset.PublicURL
		if src == "" {
			src = asset.Src
		}
		data, _, err := m.env.Source.Download(ctx, src)
		if err != nil {
			return err
		}
		upload["attachment"] = base64.StdEncoding.EncodeToString(data)
	default:
		return fmt.Errorf("asset has no content")
	}

	body := map[string]interface{}{"asset": upload}
	return m.env.Destination.Put(ctx, fmt.Sprintf("/themes/%d/assets.json", destThemeID), body, nil)
}
