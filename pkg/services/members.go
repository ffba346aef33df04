package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/planhub/ai-engine/pkg/config"
)

// MembersClient talks to the members service.
type MembersClient struct {
	*baseClient
}

func NewMembersClient(endpoint config.ServiceEndpoint) *MembersClient {
	return &MembersClient{baseClient: newBaseClient("members", endpoint)}
}

func (c *MembersClient) List(ctx context.Context, organizationID string) ([]Member, error) {
	var out []Member
	path := "/organizations/" + url.PathEscape(organizationID) + "/members"
	if err := c.doJSON(ctx, http.MethodGet, path, organizationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
