package models

type GenerationRecord struct {
	ID       int        `json:"id" form:"id" db:"id"`
	Prompt   string     `json:"prompt" form:"prompt" db:"prompt"`
	Status   TaskStatus `json:"status" form:"status" db:"status"`
	ImageURL string     `json:"image_url" form:"image_url" db:"image_url"`
	Email    string     `json:"email" form:"email" db:"email"`
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)
