package blobtable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"gocloud.dev/blob"

	"github.com/tablepull/tablepull/pkg/tableschema"
	"github.com/tablepull/tablepull/pkg/tablestream"
)

// ErrNoManifest is returned when a table has no manifest, either because it
// was never published or because Complete was never called.
var ErrNoManifest = errors.New("blobtable: table manifest not found")

// Compression values recorded in the manifest.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

const manifestObject = "manifest.json"

// Manifest describes a completed table.
type Manifest struct {
	Table       string              `json:"table"`
	Schema      []tableschema.Field `json:"schema"`
	Compression string              `json:"compression"`
	TotalRows   int64               `json:"total_rows"`
	TotalBytes  int64               `json:"total_bytes"`
	Streams     []StreamManifest    `json:"streams"`
	Metadata    map[string]string   `json:"metadata,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

// StreamManifest lists the pages of one stream, in order.
type StreamManifest struct {
	ID    string     `json:"id"`
	Pages []PageInfo `json:"pages"`
}

// PageInfo describes a single page object.
type PageInfo struct {
	Object string `json:"object"` // relative to the table prefix
	Rows   int64  `json:"rows"`
	Size   int64  `json:"size"`
}

// ArrowSchema reconstructs the Arrow schema recorded in the manifest.
func (m *Manifest) ArrowSchema() (*arrow.Schema, error) {
	return tableschema.ToArrow(m.Schema)
}

// tablePrefix maps a table reference to its location under root.
func tablePrefix(root string, ref tablestream.TableRef) string {
	return path.Join(root, ref.Project, ref.Dataset, ref.Table)
}

// ReadManifest loads the manifest for ref from the bucket.
func ReadManifest(ctx context.Context, bucket *blob.Bucket, root string, ref tablestream.TableRef) (*Manifest, error) {
	key := path.Join(tablePrefix(root, ref), manifestObject)

	exists, err := bucket.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blobtable: stat manifest: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("blobtable: %s: %w", ref, ErrNoManifest)
	}

	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("blobtable: read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("blobtable: unmarshal manifest: %w", err)
	}
	return &m, nil
}
