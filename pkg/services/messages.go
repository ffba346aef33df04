package services

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/planhub/ai-engine/pkg/config"
)

// MessagesClient talks to the messages service.
type MessagesClient struct {
	*baseClient
}

func NewMessagesClient(endpoint config.ServiceEndpoint) *MessagesClient {
	return &MessagesClient{baseClient: newBaseClient("messages", endpoint)}
}

func (c *MessagesClient) Send(ctx context.Context, organizationID string, req SendMessageRequest) (*ChatMessage, error) {
	var out ChatMessage
	path := "/organizations/" + url.PathEscape(organizationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, organizationID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns recent messages for the organization, newest last.
// limit <= 0 leaves paging to the service default.
func (c *MessagesClient) List(ctx context.Context, organizationID string, limit int) ([]ChatMessage, error) {
	path := "/organizations/" + url.PathEscape(organizationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var out []ChatMessage
	if err := c.doJSON(ctx, http.MethodGet, path, organizationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
