package model

import "time"

// Task is a single to-do item owned by exactly one user.
type Task struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Category    string    `json:"category"`
	DueDate     *string   `json:"due_date"` // YYYY-MM-DD
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

const (
	CategoryGeneral  = "general"
	CategorySchool   = "school"
	CategoryWork     = "work"
	CategoryHome     = "home"
	CategoryPersonal = "personal"
)

// DateLayout is the wire and storage format of Task.DueDate.
const DateLayout = "2006-01-02"
