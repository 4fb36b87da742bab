package loan

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"

	"github.com/ptc-library/notifier/internal/model"
)

// Repository provides read access to active loans joined with book and user
// display fields. Derived fields (due date, status) are computed by the
// caller from the current date; only raw columns are read here.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new loan repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ListActiveLoans returns every loan without a return date, with book title,
// author and the borrower's name and phone joined in.
func (r *Repository) ListActiveLoans(ctx context.Context) ([]model.Loan, error) {
	query := `
		SELECT l.loan_id, l.book_id, l.user_id, l.borrow_date,
		       b.title, b.author, u.name, u.phone
		FROM loans l
		JOIN books b ON l.book_id = b.book_id
		JOIN users u ON l.user_id = u.user_id
		WHERE l.return_date IS NULL
		ORDER BY l.borrow_date;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}
	defer rows.Close()

	var loans []model.Loan
	for rows.Next() {
		var l model.Loan
		if err := rows.Scan(
			&l.LoanID, &l.BookID, &l.UserID, &l.BorrowDate,
			&l.Title, &l.Author, &l.UserName, &l.Phone,
		); err != nil {
			return nil, err
		}

		loans = append(loans, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list active loans: %w", err)
	}

	return loans, nil
}

// ListUsersWithOverdueLoans returns users holding at least one loan whose
// due date passed overdueDays or more days ago, with their overdue counts.
func (r *Repository) ListUsersWithOverdueLoans(ctx context.Context, loanDueDays, overdueDays int) ([]model.UserLoanCount, error) {
	query := `
		SELECT u.user_id, u.name, u.phone, COUNT(*) AS loan_count
		FROM loans l
		JOIN users u ON l.user_id = u.user_id
		WHERE l.return_date IS NULL
		  AND l.borrow_date + make_interval(days => $1) <= CURRENT_DATE - make_interval(days => $2)
		GROUP BY u.user_id, u.name, u.phone
		ORDER BY loan_count DESC, u.user_id;
    `

	return r.listUserCounts(ctx, query, loanDueDays, overdueDays)
}

// ListUsersWithDueSoonLoans returns users holding at least one loan due in
// exactly reminderDays days, with the matching loan counts.
func (r *Repository) ListUsersWithDueSoonLoans(ctx context.Context, loanDueDays, reminderDays int) ([]model.UserLoanCount, error) {
	query := `
		SELECT u.user_id, u.name, u.phone, COUNT(*) AS loan_count
		FROM loans l
		JOIN users u ON l.user_id = u.user_id
		WHERE l.return_date IS NULL
		  AND l.borrow_date + make_interval(days => $1) = CURRENT_DATE + make_interval(days => $2)
		GROUP BY u.user_id, u.name, u.phone
		ORDER BY loan_count DESC, u.user_id;
    `

	return r.listUserCounts(ctx, query, loanDueDays, reminderDays)
}

func (r *Repository) listUserCounts(ctx context.Context, query string, args ...interface{}) ([]model.UserLoanCount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list user loan counts: %w", err)
	}
	defer rows.Close()

	var users []model.UserLoanCount
	for rows.Next() {
		var u model.UserLoanCount
		if err := rows.Scan(&u.UserID, &u.Name, &u.Phone, &u.LoanCount); err != nil {
			return nil, err
		}

		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user loan counts: %w", err)
	}

	return users, nil
}
