package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/planhub/ai-engine/pkg/config"
)

// TasksClient talks to the tasks service.
type TasksClient struct {
	*baseClient
}

func NewTasksClient(endpoint config.ServiceEndpoint) *TasksClient {
	return &TasksClient{baseClient: newBaseClient("tasks", endpoint)}
}

func (c *TasksClient) Create(ctx context.Context, organizationID string, req CreateTaskRequest) (*Task, error) {
	var out Task
	path := "/organizations/" + url.PathEscape(organizationID) + "/tasks"
	if err := c.doJSON(ctx, http.MethodPost, path, organizationID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TasksClient) List(ctx context.Context, organizationID string, filter TaskFilter) ([]Task, error) {
	q := url.Values{}
	if filter.ProjectID != "" {
		q.Set("project_id", filter.ProjectID)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.AssigneeID != "" {
		q.Set("assignee_id", filter.AssigneeID)
	}

	path := "/organizations/" + url.PathEscape(organizationID) + "/tasks"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out []Task
	if err := c.doJSON(ctx, http.MethodGet, path, organizationID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TasksClient) Assign(ctx context.Context, organizationID, taskID, assigneeID string) (*Task, error) {
	var out Task
	path := "/organizations/" + url.PathEscape(organizationID) + "/tasks/" + url.PathEscape(taskID) + "/assignee"
	body := map[string]string{"assignee_id": assigneeID}
	if err := c.doJSON(ctx, http.MethodPut, path, organizationID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *TasksClient) UpdateStatus(ctx context.Context, organizationID, taskID, status string) (*Task, error) {
	var out Task
	path := "/organizations/" + url.PathEscape(organizationID) + "/tasks/" + url.PathEscape(taskID) + "/status"
	body := map[string]string{"status": status}
	if err := c.doJSON(ctx, http.MethodPut, path, organizationID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
