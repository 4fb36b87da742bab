package settings

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/ptc-library/notifier/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

func TestGetPolicy(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("loan_due_days", "21").
		AddRow("reminder_days_before", "3")

	mock.ExpectQuery("SELECT key, value").
		WithArgs(model.SettingLoanDueDays, model.SettingReminderDaysBefore, model.SettingOverdueAlertDaysAfter).
		WillReturnRows(rows)

	policy, err := repo.GetPolicy(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 21, policy.LoanDueDays)
	assert.Equal(t, 3, policy.ReminderDaysBefore)
	assert.Equal(t, 1, policy.OverdueAlertDaysAfter, "absent key keeps its default")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPolicy_UnparsableValue(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("loan_due_days", "14").
		AddRow("reminder_days_before", "soon").
		AddRow("overdue_alert_days_after", "-5")

	mock.ExpectQuery("SELECT key, value").
		WithArgs(model.SettingLoanDueDays, model.SettingReminderDaysBefore, model.SettingOverdueAlertDaysAfter).
		WillReturnRows(rows)

	policy, err := repo.GetPolicy(context.Background())
	assert.NoError(t, err, "bad values degrade, they do not fail the read")

	assert.Equal(t, 14, policy.LoanDueDays)
	assert.Equal(t, model.InvalidDays, policy.ReminderDaysBefore)
	assert.Equal(t, model.InvalidDays, policy.OverdueAlertDaysAfter)
}
