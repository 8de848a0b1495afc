package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

// TaskInput is the body of POST /tasks and PUT /tasks/{id}.
//
// Title is required on both. The optional fields are pointers so an update
// can tell "not sent" (nil, keep the stored value) from a real value. For
// status, category and due_date an empty string also counts as not sent;
// an empty description clears it.
type TaskInput struct {
	Title       string  `json:"title" validate:"required,max=255"`
	Description *string `json:"description"`
	Status      *string `json:"status" validate:"omitempty,oneof=pending in_progress completed"`
	Category    *string `json:"category" validate:"omitempty,oneof=general school work home personal"`
	DueDate     *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

func (in *TaskInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	for _, p := range []**string{&in.Status, &in.Category, &in.DueDate} {
		if *p != nil {
			v := strings.TrimSpace(**p)
			*p = &v
		}
	}
}

// TaskService is the caller-scoped CRUD over tasks.
//
// OWNERSHIP:
// Every method takes the authenticated caller as an explicit argument and
// every repository call is keyed by caller.ID. Another user's task is
// reported exactly like a missing one ("Task not found"), so task ids can't
// be probed.
type TaskService struct {
	tasks  repository.TaskRepository
	logger *slog.Logger
}

func NewTaskService(tasks repository.TaskRepository, logger *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, logger: logger}
}

// List returns the caller's tasks, newest first.
func (s *TaskService) List(ctx context.Context, caller model.User) ([]model.Task, error) {
	tasks, err := s.tasks.ListByOwner(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("service/task: listing tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) Create(ctx context.Context, caller model.User, in TaskInput) (model.Task, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return model.Task{}, err
	}

	task := model.Task{
		UserID:   caller.ID,
		Title:    in.Title,
		Status:   model.StatusPending,
		Category: model.CategoryGeneral,
	}
	applyOptional(&task, in)

	created, err := s.tasks.Insert(ctx, task)
	if err != nil {
		return model.Task{}, fmt.Errorf("service/task: creating task: %w", err)
	}

	s.logger.Info("task created",
		slog.Int64("taskID", created.ID),
		slog.Int64("userID", caller.ID),
	)

	return created, nil
}

func (s *TaskService) Get(ctx context.Context, caller model.User, id int64) (model.Task, error) {
	task, err := s.tasks.FindByID(ctx, caller.ID, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}
	return task, nil
}

// Update replaces the title and any optional field that was sent; the rest
// keep their stored values. Ownership is checked before validation, so a
// foreign task is 404 even when the body is invalid.
func (s *TaskService) Update(ctx context.Context, caller model.User, id int64, in TaskInput) (model.Task, error) {
	existing, err := s.tasks.FindByID(ctx, caller.ID, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("service/task: getting task %d: %w", id, err)
	}

	in.normalize()
	if err := validateStruct(in); err != nil {
		return model.Task{}, err
	}

	next := existing
	next.Title = in.Title
	applyOptional(&next, in)

	updated, err := s.tasks.Update(ctx, next)
	if err != nil {
		return model.Task{}, fmt.Errorf("service/task: updating task %d: %w", id, err)
	}
	return updated, nil
}

func (s *TaskService) Delete(ctx context.Context, caller model.User, id int64) error {
	if err := s.tasks.Delete(ctx, caller.ID, id); err != nil {
		return fmt.Errorf("service/task: deleting task %d: %w", id, err)
	}

	s.logger.Info("task deleted",
		slog.Int64("taskID", id),
		slog.Int64("userID", caller.ID),
	)
	return nil
}

// applyOptional copies every optional field that was actually sent.
func applyOptional(task *model.Task, in TaskInput) {
	if in.Description != nil {
		task.Description = *in.Description
	}
	if in.Status != nil && *in.Status != "" {
		task.Status = *in.Status
	}
	if in.Category != nil && *in.Category != "" {
		task.Category = *in.Category
	}
	if in.DueDate != nil && *in.DueDate != "" {
		due := *in.DueDate
		task.DueDate = &due
	}
}
