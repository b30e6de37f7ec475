package migrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/storesync/storesync/internal/models"
)

const mediaPageSize = 250

// mediaMigrator copies media library files. Discovery goes through the
// cursor-paginated GraphQL files query; a failing query degrades to an
// empty result set instead of aborting the module.
type mediaMigrator struct {
	env *Env
}

func (m *mediaMigrator) Module() models.Module {
	return models.ModuleMedia
}

const filesQuery = `
query files($first: Int!, $after: String) {
  files(first: $first, after: $after) {
    edges {
      node {
        ... on MediaImage {
          id
          image {
            url
            originalSrc
          }
          alt
          fileStatus
        }
        ... on GenericFile {
          id
          url
          fileStatus
        }
        ... on Video {
          id
          sources {
            url
          }
          fileStatus
        }
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

const fileCreateMutation = `
mutation fileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files {
      id
      alt
      createdAt
    }
    userErrors {
      field
      message
    }
  }
}`

type mediaFile struct {
	ID    string `json:"id"`
	Alt   string `json:"alt"`
	URL   string `json:"url"`
	Image *struct {
		URL         string `json:"url"`
		OriginalSrc string `json:"originalSrc"`
	} `json:"image"`
	Sources []struct {
		URL string `json:"url"`
	} `json:"sources"`
}

type filesPayload struct {
	Files struct {
		Edges []struct {
			Node mediaFile `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"files"`
}

type fileCreatePayload struct {
	FileCreate struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
	} `json:"fileCreate"`
}

func (m *mediaMigrator) Migrate(ctx context.Context) (*Summary, error) {
	module := m.Module()
	m.env.Recorder.Info(ctx, module, "Starting media migration", nil)

	files := m.discoverFiles(ctx)

	total := len(files)
	m.env.Progress.SetTotal(ctx, module, total)
	m.env.Recorder.Info(ctx, module, fmt.Sprintf("Found %d media files to migrate", total), nil)

	processed := 0

	for i := range files {
		if err := m.env.checkGate(ctx); err != nil {
			return nil, err
		}

		file := &files[i]
		sourceID := gidSuffix(file.ID)

		existing, err := m.env.Checkpoints.Get(ctx, m.env.MigrationID, module, sourceID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Migrated() {
			processed++
			m.env.Progress.Update(ctx, module, processed, total)
			continue
		}

		fileURL := fileSourceURL(file)
		if fileURL == "" {
			m.env.Recorder.Warning(ctx, module, fmt.Sprintf("No URL found for file: %s", sourceID), nil)
			processed++
			m.env.Progress.Update(ctx, module, processed, total)
			continue
		}

		if err := m.migrateOne(ctx, file, sourceID, fileURL); err != nil {
			m.env.Recorder.Error(ctx, module, "Failed to migrate file", models.LogMetadata{
				"error":   err.Error(),
				"file_id": file.ID,
			})
			if cerr := m.env.Checkpoints.MarkFailed(ctx, m.env.MigrationID, module, sourceID, err.Error()); cerr != nil {
				return nil, cerr
			}
		}

		processed++
		m.env.Progress.Update(ctx, module, processed, total)

		if processed%10 == 0 {
			m.env.Recorder.Info(ctx, module, fmt.Sprintf("Migrated %d/%d files", processed, total), nil)
		}
	}

	m.env.Recorder.Success(ctx, module, "Media migration completed", models.LogMetadata{
		"total":     total,
		"processed": processed,
	})

	return &Summary{Succeeded: true, Total: total, Processed: processed}, nil
}

// discoverFiles walks the cursor-paginated files query. A failed query
// ends discovery with whatever was collected so far.
func (m *mediaMigrator) discoverFiles(ctx context.Context) []mediaFile {
	var all []mediaFile
	var cursor string

	for {
		variables := map[string]interface{}{"first": mediaPageSize}
		if cursor != "" {
			variables["after"] = cursor
		}

		var payload filesPayload
		if err := m.env.Source.GraphQL(ctx, filesQuery, variables, &payload); err != nil {
			m.env.Recorder.Warning(ctx, m.Module(), "GraphQL file query failed, continuing with discovered files", models.LogMetadata{
				"error": err.Error(),
			})
			break
		}

		for _, edge := range payload.Files.Edges {
			all = append(all, edge.Node)
		}

		if !payload.Files.PageInfo.HasNextPage {
			break
		}
		cursor = payload.Files.PageInfo.EndCursor
	}

	return all
}

func (m *mediaMigrator) migrateOne(ctx context.Context, file *mediaFile, sourceID, fileURL string) error {
	// Probe the source URL so broken files fail here rather than
	// destination-side, and to pick up the content type.
	_, contentType, err := m.env.Source.Download(ctx, fileURL)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	alt := file.Alt
	if alt == "" {
		alt = fileName(fileURL)
	}

	variables := map[string]interface{}{
		"files": []map[string]interface{}{{
			"alt":            alt,
			"contentType":    contentType,
			"originalSource": fileURL,
		}},
	}

	var payload fileCreatePayload
	if err := m.env.Destination.GraphQL(ctx, fileCreateMutation, variables, &payload); err != nil {
		return err
	}

	if len(payload.FileCreate.UserErrors) > 0 {
		return fmt.Errorf("fileCreate rejected: %s", payload.FileCreate.UserErrors[0].Message)
	}
	if len(payload.FileCreate.Files) == 0 {
		return fmt.Errorf("fileCreate returned no files")
	}

	destinationID := gidSuffix(payload.FileCreate.Files[0].ID)
	return m.env.Checkpoints.MarkCompleted(ctx, m.env.MigrationID, m.Module(), sourceID, destinationID)
}

// fileSourceURL picks the downloadable URL of a file node, whichever
// variant it is
func fileSourceURL(file *mediaFile) string {
	if file.Image != nil {
		if file.Image.OriginalSrc != "" {
			return file.Image.OriginalSrc
		}
		if file.Image.URL != "" {
			return file.Image.URL
		}
	}
	if file.URL != "" {
		return file.URL
	}
	if len(file.Sources) > 0 {
		return file.Sources[0].URL
	}
	return ""
}

// gidSuffix extracts the trailing numeric part of a global id like
// gid://shopify/MediaImage/123
func gidSuffix(gid string) string {
	parts := strings.Split(gid, "/")
	return parts[len(parts)-1]
}

// fileName extracts the file name of a URL, without query parameters
func fileName(rawURL string) string {
	parts := strings.Split(rawURL, "/")
	name := parts[len(parts)-1]
	if idx := strings.Index(name, "?"); idx != -1 {
		name = name[:idx]
	}
	return name
}
