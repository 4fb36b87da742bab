package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/ptc-library/notifier/internal/loanstatus"
	"github.com/ptc-library/notifier/internal/model"
	"github.com/ptc-library/notifier/internal/template"
)

var (
	// ErrNothingToSend aborts a bulk run before any gateway call when no
	// user is eligible for the requested kind.
	ErrNothingToSend = errors.New("nothing to send")

	// ErrUnknownKind rejects batch kinds outside the closed template set.
	ErrUnknownKind = errors.New("unknown notification kind")
)

type loanRepository interface {
	ListActiveLoans(ctx context.Context) ([]model.Loan, error)
	ListUsersWithOverdueLoans(ctx context.Context, loanDueDays, overdueDays int) ([]model.UserLoanCount, error)
	ListUsersWithDueSoonLoans(ctx context.Context, loanDueDays, reminderDays int) ([]model.UserLoanCount, error)
}

type settingsRepository interface {
	GetPolicy(ctx context.Context) (model.NotificationPolicy, error)
}

type templateRepository interface {
	GetTemplateByType(ctx context.Context, t model.TemplateType) (model.MessageTemplate, error)
	UpsertTemplate(ctx context.Context, tmpl model.MessageTemplate) error
}

// Gateway is the messaging provider reached over HTTP. One attempt per
// send; failures arrive pre-classified in the error string.
type Gateway interface {
	SendText(destination, text string) (string, error)
	Probe() error
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service orchestrates loan classification, template rendering and gateway
// dispatch. It holds no state between runs: every batch re-reads loans,
// policy and templates from storage.
type Service struct {
	loans     loanRepository
	settings  settingsRepository
	templates templateRepository
	gateway   Gateway
	cache     cache
	clock     clock
}

// NewService creates a notification service.
func NewService(
	loans loanRepository,
	settings settingsRepository,
	templates templateRepository,
	gateway Gateway,
	cache cache,
) *Service {
	return &Service{
		loans:     loans,
		settings:  settings,
		templates: templates,
		gateway:   gateway,
		cache:     cache,
		clock:     realClock{},
	}
}

// ActiveLoans returns the active-loan view decorated with due date, days
// remaining and status badge, ordered by due date.
func (s *Service) ActiveLoans(ctx context.Context) ([]model.Loan, error) {
	policy, err := s.settings.GetPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	raw, err := s.loans.ListActiveLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}

	today := s.clock.Now()
	loans := make([]model.Loan, 0, len(raw))
	for _, l := range raw {
		loans = append(loans, loanstatus.Decorate(l, today, policy))
	}

	loanstatus.SortByDueDate(loans)

	return loans, nil
}

// Summary counts pending notifications by status badge for the dashboard.
func (s *Service) Summary(ctx context.Context) (model.NotificationSummary, error) {
	loans, err := s.ActiveLoans(ctx)
	if err != nil {
		return model.NotificationSummary{}, err
	}

	var sum model.NotificationSummary
	for _, l := range loans {
		switch l.Status {
		case model.StatusDueSoon:
			sum.DueSoon++
		case model.StatusOverdue:
			sum.Overdue++
		}
	}
	sum.TotalPending = sum.DueSoon + sum.Overdue

	return sum, nil
}

// TemplateByType fetches a message template, cache-aside over the
// repository.
func (s *Service) TemplateByType(ctx context.Context, strategy retry.Strategy, t model.TemplateType) (model.MessageTemplate, error) {
	key := cacheKey(t)

	content, err := s.cache.GetWithRetry(ctx, strategy, key)
	if err == nil && content != "" {
		return model.MessageTemplate{Type: t, Content: content}, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("type", string(t)).Msg("failed to get template from cache")
	}

	tmpl, err := s.templates.GetTemplateByType(ctx, t)
	if err != nil {
		return model.MessageTemplate{}, fmt.Errorf("get template %q: %w", t, err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, key, tmpl.Content); err != nil {
		zlog.Logger.Warn().Err(err).Str("type", string(t)).Msg("failed to cache template")
	}

	return tmpl, nil
}

// SaveTemplate stores template content without validating placeholders:
// validation is a render-time concern, and an editor may legitimately save a
// template with unknown tokens. The cache entry is refreshed in place.
func (s *Service) SaveTemplate(ctx context.Context, strategy retry.Strategy, tmpl model.MessageTemplate) error {
	if err := s.templates.UpsertTemplate(ctx, tmpl); err != nil {
		return fmt.Errorf("save template: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, cacheKey(tmpl.Type), tmpl.Content); err != nil {
		zlog.Logger.Warn().Err(err).Str("type", string(tmpl.Type)).Msg("failed to cache template")
	}

	return nil
}

// SendToUser sends one message to a single phone number and returns the
// provider message id.
func (s *Service) SendToUser(phone, message string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", errors.New("missing phone number")
	}
	if strings.TrimSpace(message) == "" {
		return "", errors.New("missing message")
	}

	return s.gateway.SendText(phone, message)
}

// SendToGroup sends one message to a WhatsApp group id.
func (s *Service) SendToGroup(groupID, message string) (string, error) {
	if strings.TrimSpace(groupID) == "" {
		return "", errors.New("missing group id")
	}
	if strings.TrimSpace(message) == "" {
		return "", errors.New("missing message")
	}

	return s.gateway.SendText(groupID, message)
}

// BroadcastNewBook renders the new_book template for a book and sends it to
// a group.
func (s *Service) BroadcastNewBook(ctx context.Context, strategy retry.Strategy, groupID string, book model.Book) (string, error) {
	tmpl, err := s.TemplateByType(ctx, strategy, model.TemplateNewBook)
	if err != nil {
		return "", err
	}

	text, err := template.Render(tmpl.Content, map[string]string{
		"book_title": book.Title,
		"author":     book.Author,
		"genre":      book.Genre,
	})
	if err != nil {
		return "", fmt.Errorf("render new book broadcast: %w", err)
	}

	return s.SendToGroup(groupID, text)
}

// GatewayStatus probes the messaging gateway. Probing never counts as a
// dispatch attempt and never appears in a batch result.
func (s *Service) GatewayStatus() error {
	return s.gateway.Probe()
}

// RunBatch executes one notification batch of the given kind over all
// eligible loans, one message per loan. A failing item never aborts the
// remaining items; only missing batch preconditions (policy, template or
// loans unreadable, unknown kind) return an error.
func (s *Service) RunBatch(ctx context.Context, strategy retry.Strategy, kind model.TemplateType) (model.BatchResult, error) {
	if kind != model.TemplateDueReminder && kind != model.TemplateOverdueAlert {
		return model.BatchResult{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	policy, tmpl, loans, err := s.loadBatchInputs(ctx, strategy, kind)
	if err != nil {
		return model.BatchResult{}, err
	}

	today := s.clock.Now()

	var eligible []model.Loan
	for _, l := range loans {
		d := loanstatus.Decorate(l, today, policy)
		if loanstatus.Eligible(kind, d, policy) {
			eligible = append(eligible, d)
		}
	}

	zlog.Logger.Info().
		Str("kind", string(kind)).
		Int("eligible", len(eligible)).
		Int("active_loans", len(loans)).
		Msg("running notification batch")

	result := model.BatchResult{Total: len(eligible)}
	for _, l := range eligible {
		result.Add(s.dispatchLoan(kind, tmpl, l))
	}

	return result, nil
}

// RunBulk executes one interactive bulk send of the given kind, collapsing
// multiple eligible loans per user into a single message built from the
// representative loan. An empty precomputed eligible-user list aborts with
// ErrNothingToSend before any gateway call.
func (s *Service) RunBulk(ctx context.Context, strategy retry.Strategy, kind model.TemplateType) (model.BatchResult, error) {
	if kind != model.TemplateDueReminder && kind != model.TemplateOverdueAlert {
		return model.BatchResult{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	policy, tmpl, loans, err := s.loadBatchInputs(ctx, strategy, kind)
	if err != nil {
		return model.BatchResult{}, err
	}

	users, err := s.eligibleUsers(ctx, kind, policy)
	if err != nil {
		return model.BatchResult{}, err
	}
	if len(users) == 0 {
		return model.BatchResult{}, ErrNothingToSend
	}

	today := s.clock.Now()

	byUser := make(map[string][]model.Loan)
	for _, l := range loans {
		d := loanstatus.Decorate(l, today, policy)
		if loanstatus.Eligible(kind, d, policy) {
			byUser[d.UserID] = append(byUser[d.UserID], d)
		}
	}

	var result model.BatchResult
	for _, u := range users {
		userLoans := byUser[u.UserID]
		if len(userLoans) == 0 {
			// Precomputed list and the fresh loan read disagree, e.g. a
			// return processed between the two queries. Not an eligible
			// unit, so not counted.
			continue
		}

		result.Total++
		result.Add(s.dispatchLoan(kind, tmpl, loanstatus.SelectRepresentative(userLoans)))
	}

	if result.Total == 0 {
		return model.BatchResult{}, ErrNothingToSend
	}

	zlog.Logger.Info().
		Str("kind", string(kind)).
		Int("total", result.Total).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Msg("bulk send finished")

	return result, nil
}

func (s *Service) loadBatchInputs(ctx context.Context, strategy retry.Strategy, kind model.TemplateType) (model.NotificationPolicy, model.MessageTemplate, []model.Loan, error) {
	policy, err := s.settings.GetPolicy(ctx)
	if err != nil {
		return model.NotificationPolicy{}, model.MessageTemplate{}, nil, fmt.Errorf("get policy: %w", err)
	}

	tmpl, err := s.TemplateByType(ctx, strategy, kind)
	if err != nil {
		return model.NotificationPolicy{}, model.MessageTemplate{}, nil, err
	}

	loans, err := s.loans.ListActiveLoans(ctx)
	if err != nil {
		return model.NotificationPolicy{}, model.MessageTemplate{}, nil, fmt.Errorf("list active loans: %w", err)
	}

	return policy, tmpl, loans, nil
}

func (s *Service) eligibleUsers(ctx context.Context, kind model.TemplateType, policy model.NotificationPolicy) ([]model.UserLoanCount, error) {
	if policy.LoanDueDays < 0 {
		return nil, nil
	}

	switch kind {
	case model.TemplateDueReminder:
		if policy.ReminderDaysBefore < 0 {
			return nil, nil
		}
		return s.loans.ListUsersWithDueSoonLoans(ctx, policy.LoanDueDays, policy.ReminderDaysBefore)
	case model.TemplateOverdueAlert:
		if policy.OverdueAlertDaysAfter < 0 {
			return nil, nil
		}
		return s.loans.ListUsersWithOverdueLoans(ctx, policy.LoanDueDays, policy.OverdueAlertDaysAfter)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// dispatchLoan runs one item through its terminal state: skipped on missing
// data, failed on render or gateway error, sent otherwise.
func (s *Service) dispatchLoan(kind model.TemplateType, tmpl model.MessageTemplate, l model.Loan) model.BatchItemOutcome {
	out := model.BatchItemOutcome{
		LoanID:    l.LoanID,
		UserID:    l.UserID,
		BookTitle: l.Title,
	}

	if strings.TrimSpace(l.Phone) == "" || strings.TrimSpace(l.Title) == "" {
		out.Status = model.ItemSkipped
		out.Error = "missing phone number or book title"
		return out
	}

	text, err := template.Render(tmpl.Content, fieldsFor(kind, l))
	if err != nil {
		zlog.Logger.Warn().Err(err).Int64("loan_id", l.LoanID).Msg("failed to render notification")
		out.Status = model.ItemFailed
		out.Error = err.Error()
		return out
	}

	id, err := s.gateway.SendText(l.Phone, text)
	if err != nil {
		zlog.Logger.Warn().Err(err).Int64("loan_id", l.LoanID).Str("user_id", l.UserID).Msg("failed to send notification")
		out.Status = model.ItemFailed
		out.Error = err.Error()
		return out
	}

	out.Status = model.ItemSent
	out.MessageID = id
	return out
}

// fieldsFor builds the field map a template type is documented to use.
func fieldsFor(kind model.TemplateType, l model.Loan) map[string]string {
	fields := map[string]string{
		"book_title": l.Title,
		"user_name":  l.UserName,
	}

	switch kind {
	case model.TemplateDueReminder:
		fields["due_date"] = l.DueDate.Format("2006-01-02")
	case model.TemplateOverdueAlert:
		daysOverdue := -l.DaysRemaining
		if daysOverdue < 1 {
			daysOverdue = 1
		}
		fields["days_overdue"] = strconv.Itoa(daysOverdue)
	}

	return fields
}

func cacheKey(t model.TemplateType) string {
	return "template:" + string(t)
}
