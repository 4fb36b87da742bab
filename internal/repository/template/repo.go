package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/ptc-library/notifier/internal/model"
)

// ErrTemplateNotFound is returned when no template exists for a type.
var ErrTemplateNotFound = errors.New("template not found")

// Repository stores message templates by type. Content is opaque here:
// placeholder validation belongs to render time, so an editor may save a
// template with unknown or missing placeholders.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new template repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetTemplateByType fetches the template content for one of the closed set
// of template types.
func (r *Repository) GetTemplateByType(ctx context.Context, t model.TemplateType) (model.MessageTemplate, error) {
	query := `
		SELECT type, content
		FROM message_templates
		WHERE type = $1;
    `

	var tmpl model.MessageTemplate
	err := r.db.Master.QueryRowContext(ctx, query, string(t)).Scan(&tmpl.Type, &tmpl.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MessageTemplate{}, ErrTemplateNotFound
		}

		return model.MessageTemplate{}, fmt.Errorf("failed to get template: %w", err)
	}

	return tmpl, nil
}

// UpsertTemplate saves template content for a type, replacing any previous
// version.
func (r *Repository) UpsertTemplate(ctx context.Context, tmpl model.MessageTemplate) error {
	query := `
		INSERT INTO message_templates (type, content)
		VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET content = EXCLUDED.content;
    `

	if _, err := r.db.ExecContext(ctx, query, string(tmpl.Type), tmpl.Content); err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}

	return nil
}
