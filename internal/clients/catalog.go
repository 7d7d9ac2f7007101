package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// CatalogClient answers content membership for enterprise catalogs.
type CatalogClient struct {
	http *jsonClient
}

// NewCatalogClient constructs a CatalogClient.
func NewCatalogClient(opts Options) (*CatalogClient, error) {
	c, err := newJSONClient("catalog", opts)
	if err != nil {
		return nil, err
	}
	return &CatalogClient{http: c}, nil
}

// ContainsContentKey reports whether contentKey belongs to the catalog.
func (c *CatalogClient) ContainsContentKey(ctx context.Context, catalogUUID uuid.UUID, contentKey string) (bool, error) {
	query := url.Values{}
	query.Set("course_run_ids", contentKey)
	var out struct {
		ContainsContentItems bool `json:"contains_content_items"`
	}
	path := "/api/v2/enterprise-catalogs/" + catalogUUID.String() + "/contains_content_items/"
	if err := c.http.do(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return false, err
	}
	return out.ContainsContentItems, nil
}
