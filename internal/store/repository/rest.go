package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/verdantleaf/pos-catalog-sync/internal/model"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink/rest"
)

const storesCollection = "stores"

// RESTRepository reads the roster from the content API when the sink has no
// direct database access.
type RESTRepository struct {
	client *rest.Client
}

func NewRESTRepository(client *rest.Client) *RESTRepository {
	return &RESTRepository{client: client}
}

func (r *RESTRepository) ListActive(ctx context.Context) ([]model.Store, error) {
	query := url.Values{"filters[isActive][$eq]": {"true"}}

	var stores []model.Store
	page := 1
	for {
		docs, pageCount, err := r.client.List(ctx, storesCollection, query, page, 100)
		if err != nil {
			return nil, fmt.Errorf("store: list active: %w", err)
		}
		for _, doc := range docs {
			var st model.Store
			if err := json.Unmarshal(doc.Attrs, &st); err != nil {
				return nil, fmt.Errorf("store: decode store %s: %w", doc.DocumentID, err)
			}
			if st.ID == 0 {
				st.ID = doc.ID
			}
			stores = append(stores, st)
		}
		page++
		if page > pageCount {
			return stores, nil
		}
	}
}
