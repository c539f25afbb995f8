package db

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/satyajitghana/sd3-ui/pkg/models"
)

const CREATE_GENERATIONS_TABLE = `CREATE TABLE IF NOT EXISTS generations(
	id SERIAL PRIMARY KEY,
	prompt TEXT NOT NULL,
	status VARCHAR(255) NOT NULL,
	image_url VARCHAR(512) NOT NULL,
	email VARCHAR(255) NOT NULL
);`

type GenerationDatabase interface {
	CreateGeneration(ctx context.Context, prompt, email string) (int, error)
	CompleteGeneration(ctx context.Context, id int, imageURL string) error
	FailGeneration(ctx context.Context, id int) error
	GetGenerationByID(ctx context.Context, id int) (*models.GenerationRecord, error)
}

type GenerationDatabaseImpl struct {
	db *sqlx.DB
}

func NewGenerationDatabase(autoCreate bool, db *sqlx.DB) (*GenerationDatabaseImpl, error) {
	if autoCreate {
		if _, err := db.Exec(CREATE_GENERATIONS_TABLE); err != nil {
			return nil, err
		}
	}
	return &GenerationDatabaseImpl{db: db}, nil
}

func (r *GenerationDatabaseImpl) CreateGeneration(ctx context.Context, prompt, email string) (int, error) {
	var id int
	err := r.db.QueryRowContext(ctx, "INSERT INTO generations(prompt, status, image_url, email) VALUES($1, $2, $3, $4) RETURNING id",
		prompt, models.TaskPending, "", email).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *GenerationDatabaseImpl) CompleteGeneration(ctx context.Context, id int, imageURL string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE generations SET status=$1, image_url=$2 WHERE id=$3",
		models.TaskCompleted, imageURL, id)
	return err
}

func (r *GenerationDatabaseImpl) FailGeneration(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx, "UPDATE generations SET status=$1 WHERE id=$2",
		models.TaskFailed, id)
	return err
}

func (r *GenerationDatabaseImpl) GetGenerationByID(ctx context.Context, id int) (*models.GenerationRecord, error) {
	record := &models.GenerationRecord{}
	err := r.db.GetContext(ctx, record, "SELECT * FROM generations WHERE id=$1", id)
	if err != nil {
		return nil, err
	}
	return record, nil
}
