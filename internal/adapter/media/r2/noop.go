package r2

import (
	"fmt"

	"github.com/trawlhq/trawl/internal/domain"
)

// Disabled is the MediaStore used when object storage is not configured.
// Every ingest fails with ErrDisabled and callers keep the CDN URL.
type Disabled struct{}

var _ domain.MediaStore = Disabled{}

func (Disabled) Ingest(_ domain.Context, _ domain.MediaSource) (string, error) {
	return "", fmt.Errorf("op=r2.ingest: %w", domain.ErrDisabled)
}
