package migrator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

const pagePageSize = 250

// pageMigrator copies content pages and their metafields
type pageMigrator struct {
	env *Env
}

func (m *pageMigrator) Module() models.Module {
	return models.ModulePages
}

type page struct {
	ID             int64       `json:"id,omitempty"`
	Title          string      `json:"title"`
	BodyHTML       string      `json:"body_html"`
	Handle         string      `json:"handle,omitempty"`
	Published      bool        `json:"published"`
	Author         string      `json:"author,omitempty"`
	TemplateSuffix *string     `json:"template_suffix,omitempty"`
	Metafields     []metafield `json:"metafields,omitempty"`
}

func (m *pageMigrator) Migrate(ctx context.Context) (*Summary, error) {
	module := m.Module()
	m.env.Recorder.Info(ctx, module, "Starting page migration", nil)

	var count struct {
		Count int `json:"count"`
	}
	if err := m.env.Source.Get(ctx, "/pages/count.json", &count); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to count source pages", err)
	}

	total := count.Count
	m.env.Progress.SetTotal(ctx, module, total)
	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Found %d pages to migrate", total), nil)

	processed := 0
	pageInfo := ""

	for {
		var payload struct {
			Pages []page `json:"pages"`
		}
		path := fmt.Sprintf("/pages.json?limit=%d", pagePageSize)
		if pageInfo != "" {
			path = fmt.Sprintf("/pages.json?limit=%d&page_info=%s", pagePageSize, pageInfo)
		}
		next, err := m.env.Source.GetPage(ctx, path, &payload)
		if err != nil {
			return nil, utils.WrapModuleError(module.String(), "failed to fetch page batch", err)
		}
		if len(payload.Pages) == 0 {
			break
		}

		for i := range payload.Pages {
			if err := m.env.checkGate(ctx); err != nil {
				return nil, err
			}

			p := &payload.Pages[i]
			sourceID := strconv.FormatInt(p.ID, 10)

			existing, err := m.env.Checkpoints.Get(ctx, m.env.MigrationID, module, sourceID)
			if err != nil {
				return nil, utils.WrapModuleError(module.String(), "checkpoint lookup failed", err)
			}
			if existing != nil && existing.Migrated() {
				processed++
				m.env.Progress.Update(ctx, module, processed, total)
				continue
			}

			if err := m.migrateOne(ctx, p, sourceID); err != nil {
				m.env.Recorder.Error(ctx, module, fmt.Sprintf("Failed to migrate page: %s", p.Title), models.LogMetadata{
					"error": err.Error(),
				})
				if cerr := m.env.Checkpoints.MarkFailed(ctx, m.env.MigrationID, module, sourceID, err.Error()); cerr != nil {
					return nil, utils.WrapModuleError(module.String(), "checkpoint write failed", cerr)
				}
			}

			processed++
			m.env.Progress.Update(ctx, module, processed, total)

			if processed%10 == 0 {
				m.env.Recorder.Info(ctx, module, fmt.Sprintf("Migrated %d/%d pages", processed, total), nil)
			}
		}

		if next == "" {
			break
		}
		pageInfo = next
	}

	m.env.Recorder.Success(ctx, module, "Page migration completed", models.LogMetadata{
		"total":     total,
		"processed": processed,
	})

	return &Summary{Succeeded: true, Total: total, Processed: processed}, nil
}

func (m *pageMigrator) migrateOne(ctx context.Context, p *page, sourceID string) error {
	module := m.Module()

	body := map[string]interface{}{
		"page": page{
			Title:          p.Title,
			BodyHTML:       p.BodyHTML,
			Handle:         p.Handle,
			Published:      p.Published,
			Author:         p.Author,
			TemplateSuffix: p.TemplateSuffix,
		},
	}

	var created struct {
		Page struct {
			ID int64 `json:"id"`
		} `json:"page"`
	}
	if err := m.env.Destination.Post(ctx, "/pages.json", body, &created); err != nil {
		return err
	}

	for _, mf := range p.Metafields {
		path := fmt.Sprintf("/pages/%d/metafields.json", created.Page.ID)
		if err := m.env.Destination.Post(ctx, path, map[string]interface{}{"metafield": mf}, nil); err != nil {
			m.env.Recorder.Warning(ctx, module, fmt.Sprintf("Failed to migrate metafield for page: %s", p.Title), models.LogMetadata{
				"error": err.Error(),
			})
		}
	}

	destinationID := strconv.FormatInt(created.Page.ID, 10)
	return m.env.Checkpoints.MarkCompleted(ctx, m.env.MigrationID, module, sourceID, destinationID)
}
