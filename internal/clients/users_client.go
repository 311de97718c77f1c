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

// UsersClient looks up patrons in the users service.
type UsersClient struct {
	baseClient
}

func NewUsersClient(baseURL string, httpClient *http.Client) *UsersClient {
	return &UsersClient{baseClient: newBaseClient("users", baseURL, httpClient)}
}

func (c *UsersClient) GetUser(ctx context.Context, id uuid.UUID) (circulation.User, error) {
	var user circulation.User
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%s", id), nil, "user", id.String(), &user); err != nil {
		return circulation.User{}, err
	}
	return user, nil
}

func (c *UsersClient) FindUserByBarcode(ctx context.Context, barcode string) (circulation.User, error) {
	var page struct {
		Users []circulation.User `json:"users"`
	}
	query := url.Values{"barcode": []string{barcode}}
	if err := c.getJSON(ctx, "/users", query, "user", barcode, &page); err != nil {
		return circulation.User{}, err
	}
	if len(page.Users) == 0 {
		return circulation.User{}, result.NotFound("user", barcode)
	}
	return page.Users[0], nil
}
