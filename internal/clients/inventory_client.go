package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"circulus/internal/circulation"
	"circulus/internal/result"
)

// InventoryClient reads and updates items in the inventory service.
type InventoryClient struct {
	baseClient
}

func NewInventoryClient(baseURL string, httpClient *http.Client) *InventoryClient {
	return &InventoryClient{baseClient: newBaseClient("inventory", baseURL, httpClient)}
}

func (c *InventoryClient) GetItem(ctx context.Context, id uuid.UUID) (circulation.Item, error) {
	var item circulation.Item
	if err := c.getJSON(ctx, fmt.Sprintf("/items/%s", id), nil, "item", id.String(), &item); err != nil {
		return circulation.Item{}, err
	}
	return item, nil
}

func (c *InventoryClient) FindItemByBarcode(ctx context.Context, barcode string) (circulation.Item, error) {
	var page struct {
		Items []circulation.Item `json:"items"`
	}
	query := url.Values{"barcode": []string{barcode}}
	if err := c.getJSON(ctx, "/items", query, "item", barcode, &page); err != nil {
		return circulation.Item{}, err
	}
	switch len(page.Items) {
	case 0:
		return circulation.Item{}, result.NotFound("item", barcode)
	case 1:
		return page.Items[0], nil
	default:
		return circulation.Item{}, result.Server("More than one item with barcode %s", barcode)
	}
}

// UpdateItemStatus writes the item back with a new status.
func (c *InventoryClient) UpdateItemStatus(ctx context.Context, item circulation.Item, status circulation.ItemStatus) (circulation.Item, error) {
	updated := item.WithStatus(status)
	if err := c.putJSON(ctx, fmt.Sprintf("/items/%s", item.ID), updated); err != nil {
		return circulation.Item{}, err
	}
	return updated, nil
}
