package loan

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"
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

func TestListActiveLoans(t *testing.T) {
	repo, mock := setupMockDB(t)

	borrowDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"loan_id", "book_id", "user_id", "borrow_date", "title", "author", "name", "phone",
	}).
		AddRow(int64(1), "B001", "alice", borrowDate, "Dune", "Frank Herbert", "Alice", "61400000001").
		AddRow(int64(2), "B002", "bob", borrowDate, "Solaris", "Stanislaw Lem", "Bob", "61400000002")

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT l.loan_id, l.book_id, l.user_id, l.borrow_date,
		       b.title, b.author, u.name, u.phone
		FROM loans l
		JOIN books b ON l.book_id = b.book_id
		JOIN users u ON l.user_id = u.user_id
		WHERE l.return_date IS NULL
		ORDER BY l.borrow_date;
    `)).WillReturnRows(rows)

	loans, err := repo.ListActiveLoans(context.Background())
	assert.NoError(t, err)
	assert.Len(t, loans, 2)

	assert.Equal(t, int64(1), loans[0].LoanID)
	assert.Equal(t, "Dune", loans[0].Title)
	assert.Equal(t, "61400000001", loans[0].Phone)
	assert.Equal(t, borrowDate, loans[0].BorrowDate)
	assert.Zero(t, loans[0].Status, "derived fields stay unset at the repository boundary")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveLoans_QueryError(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT l.loan_id").WillReturnError(errors.New("connection refused"))

	_, err := repo.ListActiveLoans(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithOverdueLoans(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"user_id", "name", "phone", "loan_count"}).
		AddRow("alice", "Alice", "61400000001", 2).
		AddRow("bob", "Bob", "61400000002", 1)

	mock.ExpectQuery("SELECT u.user_id, u.name, u.phone, COUNT").
		WithArgs(14, 1).
		WillReturnRows(rows)

	users, err := repo.ListUsersWithOverdueLoans(context.Background(), 14, 1)
	assert.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].UserID)
	assert.Equal(t, 2, users[0].LoanCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUsersWithDueSoonLoans_Empty(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"user_id", "name", "phone", "loan_count"})

	mock.ExpectQuery("SELECT u.user_id, u.name, u.phone, COUNT").
		WithArgs(14, 2).
		WillReturnRows(rows)

	users, err := repo.ListUsersWithDueSoonLoans(context.Background(), 14, 2)
	assert.NoError(t, err)
	assert.Empty(t, users)

	assert.NoError(t, mock.ExpectationsWereMet())
}
