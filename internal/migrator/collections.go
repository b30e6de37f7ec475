package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

// collectionMigrator copies custom and smart collections. It depends
// on the product module: collection membership is translated through
// the source-to-destination product mapping built from already
// completed product checkpoints.
type collectionMigrator struct {
	env *Env
}

func (m *collectionMigrator) Module() models.Module {
	return models.ModuleCollections
}

type collection struct {
	ID        int64            `json:"id,omitempty"`
	Title     string           `json:"title"`
	BodyHTML  string           `json:"body_html"`
	Handle    string           `json:"handle,omitempty"`
	Published bool             `json:"published"`
	SortOrder string           `json:"sort_order,omitempty"`
	Image     *collectionImage `json:"image,omitempty"`

	// Smart collections only
	Rules       json.RawMessage `json:"rules,omitempty"`
	Disjunctive bool            `json:"disjunctive,omitempty"`
}

type collectionImage struct {
	Src string  `json:"src"`
	Alt *string `json:"alt,omitempty"`
}

type collect struct {
	ProductID    int64 `json:"product_id"`
	CollectionID int64 `json:"collection_id"`
}

func (m *collectionMigrator) Migrate(ctx context.Context) (*Summary, error) {
	module := m.Module()
	m.env.Recorder.Info(ctx, module, "Starting collection migration", nil)

	var custom struct {
		CustomCollections []collection `json:"custom_collections"`
	}
	if err := m.env.Source.Get(ctx, "/custom_collections.json", &custom); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to fetch custom collections", err)
	}

	var smart struct {
		SmartCollections []collection `json:"smart_collections"`
	}
	if err := m.env.Source.Get(ctx, "/smart_collections.json", &smart); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to fetch smart collections", err)
	}

	total := len(custom.CustomCollections) + len(smart.SmartCollections)
	m.env.Progress.SetTotal(ctx, module, total)
	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Found %d collections to migrate", total), nil)

	// Built once per run from completed product checkpoints.
	productMap, err := m.env.Checkpoints.CompletedMapping(ctx, m.env.MigrationID, models.ModuleProducts)
	if err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to load product mapping", err)
	}

	processed := 0

	for i := range custom.CustomCollections {
		if err := m.env.checkGate(ctx); err != nil {
			return nil, err
		}
		c := &custom.CustomCollections[i]
		sourceID := fmt.Sprintf("custom_%d", c.ID)

		skip, err := m.alreadyMigrated(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if !skip {
			if err := m.migrateCustom(ctx, c, sourceID, productMap); err != nil {
				m.env.Recorder.Error(ctx, module, fmt.Sprintf("Failed to migrate custom collection: %s", c.Title), models.LogMetadata{
					"error": err.Error(),
				})
				if cerr := m.env.Checkpoints.MarkFailed(ctx, m.env.MigrationID, module, sourceID, err.Error()); cerr != nil {
					return nil, utils.WrapModuleError(module.String(), "checkpoint write failed", cerr)
				}
			}
		}
		processed++
		m.env.Progress.Update(ctx, module, processed, total)
	}

	for i := range smart.SmartCollections {
		if err := m.env.checkGate(ctx); err != nil {
			return nil, err
		}
		c := &smart.SmartCollections[i]
		sourceID := fmt.Sprintf("smart_%d", c.ID)

		skip, err := m.alreadyMigrated(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if !skip {
			if err := m.migrateSmart(ctx, c, sourceID); err != nil {
				m.env.Recorder.Error(ctx, module, fmt.Sprintf("Failed to migrate smart collection: %s", c.Title), models.LogMetadata{
					"error": err.Error(),
				})
				if cerr := m.env.Checkpoints.MarkFailed(ctx, m.env.MigrationID, module, sourceID, err.Error()); cerr != nil {
					return nil, utils.WrapModuleError(module.String(), "checkpoint write failed", cerr)
				}
			}
		}
		processed++
		m.env.Progress.Update(ctx, module, processed, total)
	}

	m.env.Recorder.Success(ctx, module, "Collection migration completed", models.LogMetadata{
		"total":     total,
		"processed": processed,
	})

	return &Summary{Succeeded: true, Total: total, Processed: processed}, nil
}

func (m *collectionMigrator) alreadyMigrated(ctx context.Context, sourceID string) (bool, error) {
	existing, err := m.env.Checkpoints.Get(ctx, m.env.MigrationID, m.Module(), sourceID)
	if err != nil {
		return false, utils.WrapModuleError(m.Module().String(), "checkpoint lookup failed", err)
	}
	return existing != nil && existing.Migrated(), nil
}

// migrateCustom creates the collection and re-links its member
// products through the product mapping. Link failures are warnings.
func (m *collectionMigrator) migrateCustom(ctx context.Context, c *collection, sourceID string, productMap map[string]string) error {
	module := m.Module()

	body := map[string]interface{}{
		"custom_collection": collection{
			Title:     c.Title,
			BodyHTML:  c.BodyHTML,
			Handle:    c.Handle,
			Published: c.Published,
			SortOrder: c.SortOrder,
			Image:     c.Image,
		},
	}

	var created struct {
		CustomCollection struct {
			ID int64 `json:"id"`
		} `json:"custom_collection"`
	}
	if err := m.env.Destination.Post(ctx, "/custom_collections.json", body, &created); err != nil {
		return err
	}

	var collects struct {
		Collects []collect `json:"collects"`
	}
	path := fmt.Sprintf("/collects.json?collection_id=%d", c.ID)
	if err := m.env.Source.Get(ctx, path, &collects); err != nil {
		return err
	}

	for _, link := range collects.Collects {
		destProductID, ok := productMap[strconv.FormatInt(link.ProductID, 10)]
		if !ok {
			continue
		}
		err := m.env.Destination.Post(ctx, "/collects.json", map[string]interface{}{
			"collect": map[string]interface{}{
				"product_id":    destProductID,
				"collection_id": created.CustomCollection.ID,
			},
		}, nil)
		if err != nil {
			m.env.Recorder.Warning(ctx, module, "Failed to add product to collection", models.LogMetadata{
				"error": err.Error(),
			})
		}
	}

	destinationID := strconv.FormatInt(created.CustomCollection.ID, 10)
	return m.env.Checkpoints.MarkCompleted(ctx, m.env.MigrationID, module, sourceID, destinationID)
}

func (m *collectionMigrator) migrateSmart(ctx context.Context, c *collection, sourceID string) error {
	body := map[string]interface{}{
		"smart_collection": collection{
			Title:       c.Title,
			BodyHTML:    c.BodyHTML,
			Handle:      c.Handle,
			Published:   c.Published,
			Rules:       c.Rules,
			Disjunctive: c.Disjunctive,
			SortOrder:   c.SortOrder,
			Image:       c.Image,
		},
	}

	var created struct {
		SmartCollection struct {
			ID int64 `json:"id"`
		} `json:"smart_collection"`
	}
	if err := m.env.Destination.Post(ctx, "/smart_collections.json", body, &created); err != nil {
		return err
	}

	destinationID := strconv.FormatInt(created.SmartCollection.ID, 10)
	return m.env.Checkpoints.MarkCompleted(ctx, m.env.MigrationID, m.Module(), sourceID, destinationID)
}
