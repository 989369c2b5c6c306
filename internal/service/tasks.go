package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/command"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/policy"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/tenant"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/workspace"
)

// Actions handled by TaskService.
const (
	ActionTaskCreate       = "TASK_CREATE"
	ActionTaskLinkExternal = "TASK_LINK_EXTERNAL"
	ActionTaskIngestEmail  = "TASK_INGEST_EMAIL"
)

// Task service errors.
var (
	ErrBoardNotFound = errors.New("board not found")
	ErrTaskNotFound  = errors.New("task not found")
)

// TaskService implements the task commands on top of the pipeline.
//
// Payload shapes (camelCase, also what policy conditions see as "resource"):
//
//	TASK_CREATE:         {boardId, title, source: {type, externalId?}}
//	TASK_LINK_EXTERNAL:  {taskId, source: {type, externalId}}
//	TASK_INGEST_EMAIL:   {boardId, subject, messageId, from?}
//
// The project scope is always taken from the stored board.
type TaskService struct {
	pipeline *Pipeline
	resolver *ContextResolver
	tasks    *tenant.Store[workspace.Task]
	boards   *tenant.Store[workspace.Board]
	newID    func() (string, error)
	now      func() time.Time
}

// NewTaskService creates a TaskService.
func NewTaskService(pipeline *Pipeline, resolver *ContextResolver, tasks *tenant.Store[workspace.Task], boards *tenant.Store[workspace.Board]) *TaskService {
	return &TaskService{
		pipeline: pipeline,
		resolver: resolver,
		tasks:    tasks,
		boards:   boards,
		newID:    newUUIDv7,
		now:      time.Now,
	}
}

// CreateTask creates a task from a manual, Jira or email source.
func (s *TaskService) CreateTask(ctx context.Context, cmd command.Command) (workspace.Task, error) {
	return Run(ctx, s.pipeline, cmd, UseCase[workspace.Task]{
		Action:            ActionTaskCreate,
		ResourceType:      workspace.KindTask,
		LoadPolicyContext: s.boardContext,
		Handle: func(ctx context.Context, cmd command.Command, _ *policy.Context) (Effect[workspace.Task], error) {
			p := cmd.Payload
			source, _ := p.Field("source")
			return s.create(ctx, cmd, p.StringField("boardId"), p.StringField("title"), workspace.Source{
				Type:       workspace.SourceType(source.StringField("type")),
				ExternalID: source.StringField("externalId"),
			})
		},
	})
}

// IngestEmail creates a task from email metadata.
func (s *TaskService) IngestEmail(ctx context.Context, cmd command.Command) (workspace.Task, error) {
	return Run(ctx, s.pipeline, cmd, UseCase[workspace.Task]{
		Action:            ActionTaskIngestEmail,
		ResourceType:      workspace.KindTask,
		ResourceID:        func(cmd command.Command) string { return cmd.Payload.StringField("messageId") },
		LoadPolicyContext: s.boardContext,
		Handle: func(ctx context.Context, cmd command.Command, _ *policy.Context) (Effect[workspace.Task], error) {
			p := cmd.Payload
			effect, err := s.create(ctx, cmd, p.StringField("boardId"), p.StringField("subject"), workspace.Source{
				Type:       workspace.SourceEmail,
				ExternalID: p.StringField("messageId"),
			})
			if err == nil && p.StringField("from") != "" {
				effect.Metadata = map[string]string{"emailFrom": p.StringField("from")}
			}
			return effect, err
		},
	})
}

// LinkExternalIssue attaches an external source to an existing task and
// bumps its version.
func (s *TaskService) LinkExternalIssue(ctx context.Context, cmd command.Command) (workspace.Task, error) {
	return Run(ctx, s.pipeline, cmd, UseCase[workspace.Task]{
		Action:       ActionTaskLinkExternal,
		ResourceType: workspace.KindTask,
		ResourceID:   func(cmd command.Command) string { return cmd.Payload.StringField("taskId") },
		LoadPolicyContext: func(ctx context.Context, cmd command.Command) (*policy.Context, error) {
			task, ok, err := s.tasks.FindByID(ctx, cmd.Payload.StringField("taskId"), cmd.TenantID)
			if err != nil {
				return nil, err
			}
			if !ok {
				// Unknown tasks are judged by the tenant context.
				return s.resolver.Resolve(ctx, cmd.TenantID)
			}
			return s.resolver.Resolve(ctx, cmd.TenantID, ScopeRef{Scope: policy.ScopeBoard, ID: task.BoardID})
		},
		Handle: func(ctx context.Context, cmd command.Command, _ *policy.Context) (Effect[workspace.Task], error) {
			taskID := cmd.Payload.StringField("taskId")
			task, ok, err := s.tasks.FindByID(ctx, taskID, cmd.TenantID)
			if err != nil {
				return Effect[workspace.Task]{}, err
			}
			if !ok {
				return Effect[workspace.Task]{}, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
			}
			source, _ := cmd.Payload.Field("source")
			task.Source = workspace.Source{
				Type:       workspace.SourceType(source.StringField("type")),
				ExternalID: source.StringField("externalId"),
			}
			task.Version++
			task.UpdatedAt = s.now().UTC()
			if err := s.tasks.Save(ctx, task); err != nil {
				return Effect[workspace.Task]{}, err
			}
			return Effect[workspace.Task]{
				Result:     task,
				ResourceID: task.ID,
				Metadata:   map[string]string{"version": fmt.Sprint(task.Version)},
			}, nil
		},
	})
}

// CreateBoard stores a board. Boards are workspace setup, not a governed
// command, so they bypass the pipeline.
func (s *TaskService) CreateBoard(ctx context.Context, board workspace.Board) error {
	return s.boards.Save(ctx, board)
}

// ListTasks returns the tasks of a board.
func (s *TaskService) ListTasks(ctx context.Context, tenantID, boardID string) ([]workspace.Task, error) {
	return s.tasks.FindAllByScope(ctx, workspace.BoardSelector(boardID), tenantID)
}

// boardContext resolves board, then the board's own project, then tenant.
// Unknown boards are judged by the tenant context.
func (s *TaskService) boardContext(ctx context.Context, cmd command.Command) (*policy.Context, error) {
	board, ok, err := s.boards.FindByID(ctx, cmd.Payload.StringField("boardId"), cmd.TenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.resolver.Resolve(ctx, cmd.TenantID)
	}
	return s.resolver.Resolve(ctx, cmd.TenantID,
		ScopeRef{Scope: policy.ScopeBoard, ID: board.ID},
		ScopeRef{Scope: policy.ScopeProject, ID: board.ProjectID},
	)
}

func (s *TaskService) create(ctx context.Context, cmd command.Command, boardID, title string, source workspace.Source) (Effect[workspace.Task], error) {
	_, ok, err := s.boards.FindByID(ctx, boardID, cmd.TenantID)
	if err != nil {
		return Effect[workspace.Task]{}, err
	}
	if !ok {
		return Effect[workspace.Task]{}, fmt.Errorf("%w: %q", ErrBoardNotFound, boardID)
	}

	id, err := s.newID()
	if err != nil {
		return Effect[workspace.Task]{}, fmt.Errorf("generate task id: %w", err)
	}
	now := s.now().UTC()
	task := workspace.Task{
		ID:        id,
		TenantID:  cmd.TenantID,
		BoardID:   boardID,
		Title:     title,
		Source:    source,
		Status:    workspace.StatusOpen,
		Version:   1,
		CreatedBy: cmd.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tasks.Save(ctx, task); err != nil {
		return Effect[workspace.Task]{}, err
	}
	return Effect[workspace.Task]{Result: task, ResourceID: task.ID}, nil
}
