package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/planhub/ai-engine/pkg/services"
)

// ProjectsFetcher renders projects into documents.
type ProjectsFetcher struct {
	client *services.ProjectsClient
}

func NewProjectsFetcher(client *services.ProjectsClient) *ProjectsFetcher {
	return &ProjectsFetcher{client: client}
}

func (f *ProjectsFetcher) SourceType() string { return SourceProjects }

func (f *ProjectsFetcher) Fetch(ctx context.Context, organizationID string) ([]Document, error) {
	projects, err := f.client.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(projects))
	for _, p := range projects {
		var b strings.Builder
		fmt.Fprintf(&b, "Project: %s\nStatus: %s\n", p.Name, p.Status)
		if p.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", p.Description)
		}
		docs = append(docs, Document{
			SourceType: SourceProjects,
			EntityID:   p.ID,
			Title:      p.Name,
			Body:       b.String(),
			Metadata:   map[string]string{"status": p.Status},
		})
	}
	return docs, nil
}

// TasksFetcher renders tasks into documents.
type TasksFetcher struct {
	client *services.TasksClient
}

func NewTasksFetcher(client *services.TasksClient) *TasksFetcher {
	return &TasksFetcher{client: client}
}

func (f *TasksFetcher) SourceType() string { return SourceTasks }

func (f *TasksFetcher) Fetch(ctx context.Context, organizationID string) ([]Document, error) {
	tasks, err := f.client.List(ctx, organizationID, services.TaskFilter{})
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(tasks))
	for _, t := range tasks {
		var b strings.Builder
		fmt.Fprintf(&b, "Task: %s\nStatus: %s\nPriority: %s\n", t.Title, t.Status, t.Priority)
		if t.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", t.Description)
		}
		if t.AssigneeID != "" {
			fmt.Fprintf(&b, "Assignee: %s\n", t.AssigneeID)
		}
		if t.DueDate != nil {
			fmt.Fprintf(&b, "Due: %s\n", t.DueDate.Format("2006-01-02"))
		}
		docs = append(docs, Document{
			SourceType: SourceTasks,
			EntityID:   t.ID,
			Title:      t.Title,
			Body:       b.String(),
			Metadata: map[string]string{
				"project_id": t.ProjectID,
				"status":     t.Status,
			},
		})
	}
	return docs, nil
}

// MessagesFetcher renders recent chat messages into documents.
type MessagesFetcher struct {
	client *services.MessagesClient
	limit  int
}

func NewMessagesFetcher(client *services.MessagesClient, limit int) *MessagesFetcher {
	return &MessagesFetcher{client: client, limit: limit}
}

func (f *MessagesFetcher) SourceType() string { return SourceMessages }

func (f *MessagesFetcher) Fetch(ctx context.Context, organizationID string) ([]Document, error) {
	messages, err := f.client.List(ctx, organizationID, f.limit)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(messages))
	for _, m := range messages {
		body := fmt.Sprintf("%s said at %s: %s",
			m.SenderName, m.CreatedAt.Format("2006-01-02 15:04"), m.Content)
		docs = append(docs, Document{
			SourceType: SourceMessages,
			EntityID:   m.ID,
			Body:       body,
			Metadata:   map[string]string{"channel_id": m.ChannelID},
		})
	}
	return docs, nil
}

// MembersFetcher renders the team roster into documents.
type MembersFetcher struct {
	client *services.MembersClient
}

func NewMembersFetcher(client *services.MembersClient) *MembersFetcher {
	return &MembersFetcher{client: client}
}

func (f *MembersFetcher) SourceType() string { return SourceMembers }

func (f *MembersFetcher) Fetch(ctx context.Context, organizationID string) ([]Document, error) {
	members, err := f.client.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(members))
	for _, m := range members {
		body := fmt.Sprintf("Team member: %s\nRole: %s\nEmail: %s\n", m.Name, m.Role, m.Email)
		docs = append(docs, Document{
			SourceType: SourceMembers,
			EntityID:   m.ID,
			Title:      m.Name,
			Body:       body,
			Metadata:   map[string]string{"role": m.Role},
		})
	}
	return docs, nil
}
