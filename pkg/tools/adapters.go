package tools

import (
	"context"

	"github.com/planhub/ai-engine/pkg/services"
)

// PlatformClients bundles the microservice clients the adapters call.
type PlatformClients struct {
	Projects *services.ProjectsClient
	Tasks    *services.TasksClient
	Messages *services.MessagesClient
	Members  *services.MembersClient
}

// RegisterPlatformTools builds the platform tool set over the given
// clients and registers it.
func RegisterPlatformTools(reg *Registry, clients PlatformClients) error {
	defs := []func() (*Definition, error){
		func() (*Definition, error) { return newCreateProjectTool(clients.Projects) },
		func() (*Definition, error) { return newListProjectsTool(clients.Projects) },
		func() (*Definition, error) { return newCreateTaskTool(clients.Tasks) },
		func() (*Definition, error) { return newAssignTaskTool(clients.Tasks) },
		func() (*Definition, error) { return newUpdateTaskStatusTool(clients.Tasks) },
		func() (*Definition, error) { return newListTasksTool(clients.Tasks) },
		func() (*Definition, error) { return newSendMessageTool(clients.Messages) },
		func() (*Definition, error) { return newListTeamMembersTool(clients.Members) },
	}

	for _, build := range defs {
		def, err := build()
		if err != nil {
			return err
		}
		if err := reg.RegisterTool(def); err != nil {
			return err
		}
	}
	return nil
}

type createProjectArgs struct {
	Name        string `json:"name" jsonschema:"required,description=Name of the project to create"`
	Description string `json:"description,omitempty" jsonschema:"description=Optional project description"`
}

func newCreateProjectTool(client *services.ProjectsClient) (*Definition, error) {
	return New("create_project",
		"Create a new project in the user's organization.",
		CategoryProjectManagement, true,
		func(ctx context.Context, auth AuthContext, args createProjectArgs) Result {
			project, err := client.Create(ctx, auth.OrganizationID, services.CreateProjectRequest{
				Name:        args.Name,
				Description: args.Description,
				OwnerID:     auth.UserID,
			})
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: project, EntityID: project.ID}
		})
}

type listProjectsArgs struct{}

func newListProjectsTool(client *services.ProjectsClient) (*Definition, error) {
	return New("list_projects",
		"List all projects in the user's organization.",
		CategoryProjectManagement, false,
		func(ctx context.Context, auth AuthContext, _ listProjectsArgs) Result {
			projects, err := client.List(ctx, auth.OrganizationID)
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: projects}
		})
}

type createTaskArgs struct {
	ProjectID   string `json:"project_id" jsonschema:"required,description=ID of the project the task belongs to"`
	Title       string `json:"title" jsonschema:"required,description=Short task title"`
	Description string `json:"description,omitempty" jsonschema:"description=Optional longer task description"`
	Priority    string `json:"priority,omitempty" jsonschema:"description=Task priority,enum=low,enum=medium,enum=high"`
	AssigneeID  string `json:"assignee_id,omitempty" jsonschema:"description=Optional ID of the member to assign"`
}

func newCreateTaskTool(client *services.TasksClient) (*Definition, error) {
	return New("create_task",
		"Create a task inside a project.",
		CategoryTaskManagement, true,
		func(ctx context.Context, auth AuthContext, args createTaskArgs) Result {
			task, err := client.Create(ctx, auth.OrganizationID, services.CreateTaskRequest{
				ProjectID:   args.ProjectID,
				Title:       args.Title,
				Description: args.Description,
				Priority:    args.Priority,
				AssigneeID:  args.AssigneeID,
			})
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: task, EntityID: task.ID}
		})
}

type assignTaskArgs struct {
	TaskID     string `json:"task_id" jsonschema:"required,description=ID of the task to assign"`
	AssigneeID string `json:"assignee_id" jsonschema:"required,description=ID of the member to assign the task to"`
}

func newAssignTaskTool(client *services.TasksClient) (*Definition, error) {
	return New("assign_task",
		"Assign a task to a team member.",
		CategoryTaskManagement, true,
		func(ctx context.Context, auth AuthContext, args assignTaskArgs) Result {
			task, err := client.Assign(ctx, auth.OrganizationID, args.TaskID, args.AssigneeID)
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: task, EntityID: task.ID}
		})
}

type updateTaskStatusArgs struct {
	TaskID string `json:"task_id" jsonschema:"required,description=ID of the task to update"`
	Status string `json:"status" jsonschema:"required,description=New task status,enum=todo,enum=in_progress,enum=done"`
}

func newUpdateTaskStatusTool(client *services.TasksClient) (*Definition, error) {
	return New("update_task_status",
		"Change the status of a task.",
		CategoryTaskManagement, true,
		func(ctx context.Context, auth AuthContext, args updateTaskStatusArgs) Result {
			task, err := client.UpdateStatus(ctx, auth.OrganizationID, args.TaskID, args.Status)
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: task, EntityID: task.ID}
		})
}

type listTasksArgs struct {
	ProjectID  string `json:"project_id,omitempty" jsonschema:"description=Only list tasks in this project"`
	Status     string `json:"status,omitempty" jsonschema:"description=Only list tasks with this status,enum=todo,enum=in_progress,enum=done"`
	AssigneeID string `json:"assignee_id,omitempty" jsonschema:"description=Only list tasks assigned to this member"`
}

func newListTasksTool(client *services.TasksClient) (*Definition, error) {
	return New("list_tasks",
		"List tasks in the user's organization, optionally filtered by project, status or assignee.",
		CategoryTaskManagement, false,
		func(ctx context.Context, auth AuthContext, args listTasksArgs) Result {
			tasks, err := client.List(ctx, auth.OrganizationID, services.TaskFilter{
				ProjectID:  args.ProjectID,
				Status:     args.Status,
				AssigneeID: args.AssigneeID,
			})
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: tasks}
		})
}

type sendMessageArgs struct {
	ChannelID string `json:"channel_id" jsonschema:"required,description=ID of the channel to post to"`
	Content   string `json:"content" jsonschema:"required,description=Message text to send"`
}

func newSendMessageTool(client *services.MessagesClient) (*Definition, error) {
	return New("send_message",
		"Send a chat message to a channel on behalf of the user.",
		CategoryCommunication, true,
		func(ctx context.Context, auth AuthContext, args sendMessageArgs) Result {
			msg, err := client.Send(ctx, auth.OrganizationID, services.SendMessageRequest{
				ChannelID: args.ChannelID,
				SenderID:  auth.UserID,
				Content:   args.Content,
			})
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: msg, EntityID: msg.ID}
		})
}

type listTeamMembersArgs struct{}

func newListTeamMembersTool(client *services.MembersClient) (*Definition, error) {
	return New("list_team_members",
		"List the members of the user's organization.",
		CategoryTeam, false,
		func(ctx context.Context, auth AuthContext, _ listTeamMembersArgs) Result {
			members, err := client.List(ctx, auth.OrganizationID)
			if err != nil {
				return Result{Error: err.Error()}
			}
			return Result{Success: true, Data: members}
		})
}
