package settings

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/ptc-library/notifier/internal/model"
)

// Repository reads notification policy values from the settings key/value
// table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new settings repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetPolicy loads the notification policy. Absent keys take their defaults;
// unparsable values are marked invalid by ParsePolicy so eligibility checks
// degrade to false instead of failing the run.
func (r *Repository) GetPolicy(ctx context.Context) (model.NotificationPolicy, error) {
	query := `
		SELECT key, value
		FROM settings
		WHERE key IN ($1, $2, $3);
    `

	rows, err := r.db.QueryContext(
		ctx, query,
		model.SettingLoanDueDays, model.SettingReminderDaysBefore, model.SettingOverdueAlertDaysAfter,
	)
	if err != nil {
		return model.NotificationPolicy{}, fmt.Errorf("failed to get policy settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return model.NotificationPolicy{}, err
		}

		values[key] = value
	}

	if err := rows.Err(); err != nil {
		return model.NotificationPolicy{}, fmt.Errorf("failed to get policy settings: %w", err)
	}

	return model.ParsePolicy(values), nil
}
