package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/taskflow-api/internal/apperror"
	"github.com/sakif/taskflow-api/internal/model"
)

func newTestTaskDB(t *testing.T) (*TaskDB, model.User, model.User) {
	t.Helper()
	db := newTestDB(t)
	alice := createTestUser(t, db.Users(), "alice", "alice@example.com")
	bob := createTestUser(t, db.Users(), "bob", "bob@example.com")
	return db.Tasks(), alice, bob
}

func createTestTask(t *testing.T, d *TaskDB, ownerID int64, title string) model.Task {
	t.Helper()
	task, err := d.Insert(context.Background(), model.Task{
		UserID:   ownerID,
		Title:    title,
		Status:   model.StatusPending,
		Category: model.CategoryGeneral,
	})
	if err != nil {
		t.Fatalf("failed to create test task: %v", err)
	}
	return task
}

func TestTaskInsert(t *testing.T) {
	d, alice, _ := newTestTaskDB(t)
	due := "2026-11-01"

	task, err := d.Insert(context.Background(), model.Task{
		UserID:      alice.ID,
		Title:       "Buy milk",
		Description: "2 litres",
		Status:      model.StatusInProgress,
		Category:    model.CategoryHome,
		DueDate:     &due,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if task.ID == 0 {
		t.Error("Insert() did not assign an id")
	}
	if task.UserID != alice.ID {
		t.Errorf("UserID = %d, want %d", task.UserID, alice.ID)
	}
	if task.DueDate == nil || *task.DueDate != "2026-11-01" {
		t.Errorf("DueDate = %v, want 2026-11-01", task.DueDate)
	}
	if task.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestTaskInsert_RejectsUnknownStatus(t *testing.T) {
	d, alice, _ := newTestTaskDB(t)

	_, err := d.Insert(context.Background(), model.Task{
		UserID: alice.ID, Title: "x", Status: "done", Category: model.CategoryGeneral,
	})
	if err == nil {
		t.Fatal("Insert() accepted a status outside the CHECK constraint")
	}
}

func TestTaskListByOwner_NewestFirstAndScoped(t *testing.T) {
	d, alice, bob := newTestTaskDB(t)

	first := createTestTask(t, d, alice.ID, "first")
	second := createTestTask(t, d, alice.ID, "second")
	createTestTask(t, d, bob.ID, "bob's")

	tasks, err := d.ListByOwner(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(tasks))
	}
	if tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Errorf("order = [%d %d], want [%d %d]", tasks[0].ID, tasks[1].ID, second.ID, first.ID)
	}
}

func TestTaskListByOwner_EmptyIsNotNil(t *testing.T) {
	d, alice, _ := newTestTaskDB(t)

	tasks, err := d.ListByOwner(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if tasks == nil {
		t.Error("ListByOwner() returned nil, want empty slice")
	}
}

func TestTaskFindByID_ForeignOwnerIsNotFound(t *testing.T) {
	d, alice, bob := newTestTaskDB(t)
	task := createTestTask(t, d, alice.ID, "private")

	if _, err := d.FindByID(context.Background(), alice.ID, task.ID); err != nil {
		t.Fatalf("owner FindByID() error = %v", err)
	}
	_, err := d.FindByID(context.Background(), bob.ID, task.ID)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("foreign FindByID() error = %v, want ErrNotFound", err)
	}
}

func TestTaskUpdate(t *testing.T) {
	d, alice, bob := newTestTaskDB(t)
	task := createTestTask(t, d, alice.ID, "draft")

	changed := task
	changed.Title = "final"
	changed.Status = model.StatusCompleted

	updated, err := d.Update(context.Background(), changed)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "final" || updated.Status != model.StatusCompleted {
		t.Errorf("Update() = %+v", updated)
	}
	if updated.Category != model.CategoryGeneral {
		t.Errorf("Category = %q, want unchanged %q", updated.Category, model.CategoryGeneral)
	}

	// same row, wrong owner
	stolen := updated
	stolen.UserID = bob.ID
	stolen.Title = "mine now"
	if _, err := d.Update(context.Background(), stolen); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("foreign Update() error = %v, want ErrNotFound", err)
	}

	reread, err := d.FindByID(context.Background(), alice.ID, task.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if reread.Title != "final" {
		t.Errorf("Title = %q after foreign update, want %q", reread.Title, "final")
	}
}

func TestTaskDelete(t *testing.T) {
	d, alice, bob := newTestTaskDB(t)
	task := createTestTask(t, d, alice.ID, "to delete")
	ctx := context.Background()

	if err := d.Delete(ctx, bob.ID, task.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("foreign Delete() error = %v, want ErrNotFound", err)
	}
	if err := d.Delete(ctx, alice.ID, task.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := d.Delete(ctx, alice.ID, task.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}
