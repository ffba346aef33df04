package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/planhub/ai-engine/pkg/config"
)

// ProjectsClient talks to the projects service.
type ProjectsClient struct {
	*baseClient
}

func NewProjectsClient(endpoint config.ServiceEndpoint) *ProjectsClient {
	return &ProjectsClient{baseClient: newBaseClient("projects", endpoint)}
}

func (c *ProjectsClient) Create(ctx context.Context, organizationID string, req CreateProjectRequest) (*Project, error) {
	var out Project
	path := "/organizations/" + url.PathEscape(organizationID) + "/projects"
	if err := c.doJSON(ctx, http.MethodPost, path, organizationID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ProjectsClient) List(ctx context.Context, organizationID string) ([]Project, error) {
	var out []Project
	path := "/organizations/" + url.PathEscape(organizationID) + "/projects"
	if err := c.doJSON(ctx, http.MethodGet, path, organizationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ProjectsClient) Get(ctx context.Context, organizationID, projectID string) (*Project, error) {
	var out Project
	path := "/organizations/" + url.PathEscape(organizationID) + "/projects/" + url.PathEscape(projectID)
	if err := c.doJSON(ctx, http.MethodGet, path, organizationID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
