package migrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

const productPageSize = 50

// productMigrator copies products including variants, options, images
// and metafields
type productMigrator struct {
	env *Env
}

func (m *productMigrator) Module() models.Module {
	return models.ModuleProducts
}

// Source wire shapes. Only allow-listed fields are forwarded to the
// destination; internal fields (ids, timestamps, inventory item refs)
// are dropped by construction.
type product struct {
	ID          int64            `json:"id,omitempty"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Tags        string           `json:"tags"`
	Status      string           `json:"status"`
	Variants    []productVariant `json:"variants"`
	Options     json.RawMessage  `json:"options,omitempty"`
	Images      []productImage   `json:"images"`
	Metafields  []metafield      `json:"metafields,omitempty"`
}

type productVariant struct {
	Option1             *string `json:"option1"`
	Option2             *string `json:"option2,omitempty"`
	Option3             *string `json:"option3,omitempty"`
	Price               string  `json:"price"`
	CompareAtPrice      *string `json:"compare_at_price,omitempty"`
	SKU                 string  `json:"sku"`
	Barcode             *string `json:"barcode,omitempty"`
	Weight              float64 `json:"weight,omitempty"`
	WeightUnit          string  `json:"weight_unit,omitempty"`
	InventoryManagement *string `json:"inventory_management,omitempty"`
	InventoryPolicy     string  `json:"inventory_policy,omitempty"`
	RequiresShipping    bool    `json:"requires_shipping"`
	Taxable             bool    `json:"taxable"`
}

type productImage struct {
	Src string  `json:"src"`
	Alt *string `json:"alt,omitempty"`
}

type metafield struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Type      string          `json:"type"`
}

func (m *productMigrator) Migrate(ctx context.Context) (*Summary, error) {
	module := m.Module()
	m.env.Recorder.Info(ctx, module, "Starting product migration", nil)

	var count struct {
		Count int `json:"count"`
	}
	if err := m.env.Source.Get(ctx, "/products/count.json", &count); err != nil {
		return nil, utils.WrapModuleError(module.String(), "failed to count source products", err)
	}

	total := count.Count
	m.env.Progress.SetTotal(ctx, module, total)
	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Found %d products to migrate", total), nil)

	processed := 0
	pageInfo := ""

	for {
		var payload struct {
			Products []product `json:"products"`
		}
		path := fmt.Sprintf("/products.json?limit=%d", productPageSize)
		if pageInfo != "" {
			path = fmt.Sprintf("/products.json?limit=%d&page_info=%s", productPageSize, pageInfo)
		}
		next, err := m.env.Source.GetPage(ctx, path, &payload)
		if err != nil {
			return nil, utils.WrapModuleError(module.String(), "failed to fetch product page", err)
		}
		if len(payload.Products) == 0 {
			break
		}

		for i := range payload.Products {
			if err := m.env.checkGate(ctx); err != nil {
				return nil, err
			}

			p := &payload.Products[i]
			sourceID := strconv.FormatInt(p.ID, 10)

			existing, err := m.env.Checkpoints.Get(ctx, m.env.MigrationID, module, sourceID)
			if err != nil {
				return nil, utils.WrapModuleError(module.String(), "checkpoint lookup failed", err)
			}
			if existing != nil && existing.Migrated() {
				m.env.Recorder.Info(ctx, module, fmt.Sprintf("Product already migrated: %s", p.Title), nil)
				processed++
				m.env.Progress.Update(ctx, module, processed, total)
				continue
			}

			if err := m.migrateOne(ctx, p, sourceID); err != nil {
				m.env.Recorder.Error(ctx, module, fmt.Sprintf("Failed to migrate product: %s", p.Title), models.LogMetadata{
					"error":      err.Error(),
					"product_id": p.ID,
				})
				if cerr := m.env.Checkpoints.MarkFailed(ctx, m.env.MigrationID, module, sourceID, err.Error()); cerr != nil {
					return nil, utils.WrapModuleError(module.String(), "checkpoint write failed", cerr)
				}
			}

			processed++
			m.env.Progress.Update(ctx, module, processed, total)

			if processed%10 == 0 {
				m.env.Recorder.Info(ctx, module, fmt.Sprintf("Migrated %d/%d products", processed, total), nil)
			}
		}

		if next == "" {
			break
		}
		pageInfo = next
	}

	m.env.Recorder.Success(ctx, module, "Product migration completed", models.LogMetadata{
		"total":     total,
		"processed": processed,
	})

	return &Summary{Succeeded: true, Total: total, Processed: processed}, nil
}

// migrateOne creates the product on the destination and records the
// checkpoint. Metafield failures are warnings, not item failures.
func (m *productMigrator) migrateOne(ctx context.Context, p *product, sourceID string) error {
	module := m.Module()

	variants := make([]productVariant, len(p.Variants))
	copy(variants, p.Variants)

	body := map[string]interface{}{
		"product": product{
			Title:       p.Title,
			BodyHTML:    p.BodyHTML,
			Vendor:      p.Vendor,
			ProductType: p.ProductType,
			Tags:        p.Tags,
			Status:      p.Status,
			Variants:    variants,
			Options:     p.Options,
			Images:      p.Images,
		},
	}

	var created struct {
		Product struct {
			ID int64 `json:"id"`
		} `json:"product"`
	}
	if err := m.env.Destination.Post(ctx, "/products.json", body, &created); err != nil {
		return err
	}

	for _, mf := range p.Metafields {
		path := fmt.Sprintf("/products/%d/metafields.json", created.Product.ID)
		if err := m.env.Destination.Post(ctx, path, map[string]interface{}{"metafield": mf}, nil); err != nil {
			m.env.Recorder.Warning(ctx, module, fmt.Sprintf("Failed to migrate metafield for product: %s", p.Title), models.LogMetadata{
				"error": err.Error(),
			})
		}
	}

	destinationID := strconv.FormatInt(created.Product.ID, 10)
	return m.env.Checkpoints.MarkCompleted(ctx, m.env.MigrationID, module, sourceID, destinationID)
}
