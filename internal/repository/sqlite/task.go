package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/model"
	"github.com/sakif/taskflow-api/internal/repository"
)

var _ repository.TaskRepository = (*TaskDB)(nil)

// TaskDB is the tasks table. Every single-row query carries "AND user_id = ?",
// so a foreign task looks exactly like a missing one.
type TaskDB struct {
	conn *sql.DB
}

const taskColumns = `id, user_id, title, description, status, category, due_date, created_at, updated_at`

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t       model.Task
		dueDate sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Category,
		&dueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return model.Task{}, err
	}
	t.DueDate = stringPtr(dueDate)
	return t, nil
}

// ListByOwner returns the owner's tasks, newest first. The id tiebreak keeps
// the order stable for tasks created within the same clock tick.
//
// Always returns a non-nil slice so the JSON response is [] rather than null.
func (d *TaskDB) ListByOwner(ctx context.Context, ownerID int64) ([]model.Task, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing tasks for user %d: %w", ownerID, err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating task rows: %w", err)
	}

	return tasks, nil
}

func (d *TaskDB) FindByID(ctx context.Context, ownerID, id int64) (model.Task, error) {
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	t, err := scanTask(row)
	if err != nil {
		return model.Task{}, notFound(err, "Task", fmt.Sprintf("getting task %d", id))
	}
	return t, nil
}

// Insert stores a new task for task.UserID. Defaults for status and category
// are applied by the service before it gets here.
func (d *TaskDB) Insert(ctx context.Context, task model.Task) (model.Task, error) {
	ts := now()

	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO tasks (user_id, title, description, status, category, due_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.UserID,
		task.Title,
		task.Description,
		task.Status,
		task.Category,
		nullString(task.DueDate),
		ts,
		ts,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: inserting task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: reading inserted task id: %w", err)
	}

	return d.FindByID(ctx, task.UserID, id)
}

// Update writes all mutable columns of the (id, user_id) row.
func (d *TaskDB) Update(ctx context.Context, task model.Task) (model.Task, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE tasks
		 SET title = ?, description = ?, status = ?, category = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		task.Title,
		task.Description,
		task.Status,
		task.Category,
		nullString(task.DueDate),
		now(),
		task.ID,
		task.UserID,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: updating task %d: %w", task.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.Task{}, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return model.Task{}, apperror.NotFound("Task")
	}

	return d.FindByID(ctx, task.UserID, task.ID)
}

func (d *TaskDB) Delete(ctx context.Context, ownerID, id int64) error {
	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting task %d: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("Task")
	}
	return nil
}
