package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/ptc-library/notifier/internal/model"
	templaterepo "github.com/ptc-library/notifier/internal/repository/template"
)

var today = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubLoans struct {
	loans     []model.Loan
	users     []model.UserLoanCount
	err       error
	listCalls int
}

func (s *stubLoans) ListActiveLoans(context.Context) ([]model.Loan, error) {
	s.listCalls++
	return s.loans, s.err
}

func (s *stubLoans) ListUsersWithOverdueLoans(context.Context, int, int) ([]model.UserLoanCount, error) {
	return s.users, s.err
}

func (s *stubLoans) ListUsersWithDueSoonLoans(context.Context, int, int) ([]model.UserLoanCount, error) {
	return s.users, s.err
}

type stubSettings struct {
	policy model.NotificationPolicy
	err    error
}

func (s *stubSettings) GetPolicy(context.Context) (model.NotificationPolicy, error) {
	return s.policy, s.err
}

type stubTemplates struct {
	templates map[model.TemplateType]string
	saved     []model.MessageTemplate
	getCalls  int
}

func (s *stubTemplates) GetTemplateByType(_ context.Context, t model.TemplateType) (model.MessageTemplate, error) {
	s.getCalls++
	content, ok := s.templates[t]
	if !ok {
		return model.MessageTemplate{}, templaterepo.ErrTemplateNotFound
	}
	return model.MessageTemplate{Type: t, Content: content}, nil
}

func (s *stubTemplates) UpsertTemplate(_ context.Context, tmpl model.MessageTemplate) error {
	s.saved = append(s.saved, tmpl)
	return nil
}

type sendCall struct {
	dest string
	text string
}

type stubGateway struct {
	calls    []sendCall
	errFor   map[string]error
	probeErr error
}

func (g *stubGateway) SendText(dest, text string) (string, error) {
	g.calls = append(g.calls, sendCall{dest: dest, text: text})
	if err := g.errFor[dest]; err != nil {
		return "", err
	}
	return fmt.Sprintf("MSG-%d", len(g.calls)), nil
}

func (g *stubGateway) Probe() error { return g.probeErr }

type mapCache struct {
	values map[string]string
	sets   map[string]string
}

func (c *mapCache) SetWithRetry(_ context.Context, _ retry.Strategy, key string, value interface{}) error {
	if c.sets == nil {
		c.sets = make(map[string]string)
	}
	c.sets[key] = fmt.Sprint(value)
	return nil
}

func (c *mapCache) GetWithRetry(_ context.Context, _ retry.Strategy, key string) (string, error) {
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func loan(id int64, userID, phone, title string, borrowedDaysAgo int) model.Loan {
	return model.Loan{
		LoanID:     id,
		BookID:     fmt.Sprintf("B%03d", id),
		UserID:     userID,
		UserName:   "User " + userID,
		Phone:      phone,
		Title:      title,
		BorrowDate: today.AddDate(0, 0, -borrowedDaysAgo),
	}
}

func newTestService(loans *stubLoans, gw *stubGateway) (*Service, *stubTemplates) {
	templates := &stubTemplates{
		templates: map[model.TemplateType]string{
			model.TemplateDueReminder:  "Reminder: {book_title} is due on {due_date}",
			model.TemplateOverdueAlert: "{book_title} is {days_overdue} days overdue",
			model.TemplateNewBook:      "New: {book_title} by {author} ({genre})",
		},
	}

	svc := NewService(loans, &stubSettings{policy: model.DefaultPolicy()}, templates, gw, &mapCache{})
	svc.clock = fixedClock{t: today}

	return svc, templates
}

func TestRunBatch_DueReminders(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 12),      // due in 2 days: eligible
		loan(2, "bob", "61400000002", "Neuromancer", 13), // due tomorrow: due_soon but not on the reminder day
		loan(3, "carol", "61400000003", "Solaris", 1),    // not yet due
		loan(4, "dave", "61400000004", "Ubik", 16),       // overdue, wrong kind
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateDueReminder)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Details, 1)
	assert.Equal(t, int64(1), result.Details[0].LoanID)
	assert.Equal(t, model.ItemSent, result.Details[0].Status)
	assert.NotEmpty(t, result.Details[0].MessageID)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "61400000001", gw.calls[0].dest)
	assert.Equal(t, "Reminder: Dune is due on 2025-06-17", gw.calls[0].text)
}

func TestRunBatch_OverdueAlerts(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 16), // 2 days overdue: eligible
		loan(2, "bob", "61400000002", "Solaris", 12),
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Success)
	require.Len(t, gw.calls, 1)
	assert.Equal(t, "Dune is 2 days overdue", gw.calls[0].text)
}

func TestRunBatch_PartialFailure(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 16),
		loan(2, "bob", "61400000002", "Solaris", 16),
		loan(3, "carol", "61400000003", "Ubik", 16),
	}}
	gw := &stubGateway{errFor: map[string]error{
		"61400000002": errors.New("timeout"),
	}}
	svc, _ := newTestService(loans, gw)

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, result.Total, result.Success+result.Failed)
	assert.Len(t, gw.calls, 3, "a failing item must not abort the rest")

	var failed []model.BatchItemOutcome
	for _, d := range result.Details {
		if d.Status == model.ItemFailed {
			failed = append(failed, d)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "bob", failed[0].UserID)
	assert.Equal(t, "timeout", failed[0].Error)
}

func TestRunBatch_SkipsMissingData(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "", "Dune", 16),          // no phone
		loan(2, "bob", "61400000002", "", 16),     // no title
		loan(3, "carol", "61400000003", "Ubik", 16),
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, gw.calls, 1, "skipped items must not reach the gateway")

	skipped := 0
	for _, d := range result.Details {
		if d.Status == model.ItemSkipped {
			skipped++
			assert.Equal(t, "missing phone number or book title", d.Error)
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestRunBatch_RenderFailure(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 16),
	}}
	gw := &stubGateway{}
	svc, templates := newTestService(loans, gw)
	templates.templates[model.TemplateOverdueAlert] = "{book_title} overdue, fine {fine_amount}"

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Details, 1)
	assert.Equal(t, model.ItemFailed, result.Details[0].Status)
	assert.Equal(t, "missing placeholder {fine_amount}", result.Details[0].Error)
	assert.Empty(t, gw.calls, "an unrenderable item must not be dispatched")
}

func TestRunBatch_Idempotent(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 12),
		loan(2, "bob", "61400000002", "Solaris", 12),
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	first, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateDueReminder)
	require.NoError(t, err)
	second, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateDueReminder)
	require.NoError(t, err)

	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, first.Success, second.Success)
	assert.Equal(t, first.Failed, second.Failed)
	assert.Equal(t, 2, loans.listCalls, "every run re-reads loans from storage")
}

func TestRunBatch_TemplateMissing(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 16),
	}}
	gw := &stubGateway{}
	svc, templates := newTestService(loans, gw)
	delete(templates.templates, model.TemplateOverdueAlert)

	_, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.Error(t, err)
	assert.ErrorIs(t, err, templaterepo.ErrTemplateNotFound)
	assert.Empty(t, gw.calls)
}

func TestRunBatch_UnknownKind(t *testing.T) {
	svc, _ := newTestService(&stubLoans{}, &stubGateway{})

	_, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateNewBook)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateCustom)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRunBatch_BrokenPolicyValueSendsNothing(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 12),
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	policy := model.DefaultPolicy()
	policy.ReminderDaysBefore = model.InvalidDays
	svc.settings = &stubSettings{policy: policy}

	result, err := svc.RunBatch(context.Background(), retry.Strategy{}, model.TemplateDueReminder)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.Empty(t, gw.calls, "nothing is sent on bad configuration")
}

func TestRunBulk_OneMessagePerUser(t *testing.T) {
	loans := &stubLoans{
		loans: []model.Loan{
			loan(1, "alice", "61400000001", "Dune", 20),    // earliest due date
			loan(2, "alice", "61400000001", "Solaris", 16), // collapsed away
			loan(3, "bob", "61400000002", "Ubik", 16),
		},
		users: []model.UserLoanCount{
			{UserID: "alice", Name: "Alice", Phone: "61400000001", LoanCount: 2},
			{UserID: "bob", Name: "Bob", Phone: "61400000002", LoanCount: 1},
		},
	}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	result, err := svc.RunBulk(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Success)
	require.Len(t, gw.calls, 2, "one message per user per run")

	var aliceOutcome *model.BatchItemOutcome
	for i := range result.Details {
		if result.Details[i].UserID == "alice" {
			aliceOutcome = &result.Details[i]
		}
	}
	require.NotNil(t, aliceOutcome)
	assert.Equal(t, int64(1), aliceOutcome.LoanID, "representative loan has the earliest due date")
	assert.Equal(t, "Dune", aliceOutcome.BookTitle)
}

func TestRunBulk_NothingToSend(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 1),
	}}
	gw := &stubGateway{}
	svc, _ := newTestService(loans, gw)

	_, err := svc.RunBulk(context.Background(), retry.Strategy{}, model.TemplateOverdueAlert)
	assert.ErrorIs(t, err, ErrNothingToSend)
	assert.Empty(t, gw.calls, "short-circuits before any gateway call")
}

func TestSummary(t *testing.T) {
	loans := &stubLoans{loans: []model.Loan{
		loan(1, "alice", "61400000001", "Dune", 16),
		loan(2, "bob", "61400000002", "Solaris", 13),
		loan(3, "carol", "61400000003", "Ubik", 12),
		loan(4, "dave", "61400000004", "Valis", 1),
	}}
	svc, _ := newTestService(loans, &stubGateway{})

	sum, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Overdue)
	assert.Equal(t, 2, sum.DueSoon)
	assert.Equal(t, 3, sum.TotalPending)
}

func TestTemplateByType_CacheHit(t *testing.T) {
	templates := &stubTemplates{}
	svc := NewService(&stubLoans{}, &stubSettings{policy: model.DefaultPolicy()}, templates, &stubGateway{}, &mapCache{
		values: map[string]string{"template:due_reminder": "cached {book_title}"},
	})

	tmpl, err := svc.TemplateByType(context.Background(), retry.Strategy{}, model.TemplateDueReminder)
	require.NoError(t, err)
	assert.Equal(t, "cached {book_title}", tmpl.Content)
	assert.Zero(t, templates.getCalls, "cache hit skips the repository")
}

func TestSaveTemplate_RefreshesCache(t *testing.T) {
	gw := &stubGateway{}
	svc, templates := newTestService(&stubLoans{}, gw)
	cache := &mapCache{}
	svc.cache = cache

	tmpl := model.MessageTemplate{Type: model.TemplateCustom, Content: "anything, even {unknown_token}"}
	require.NoError(t, svc.SaveTemplate(context.Background(), retry.Strategy{}, tmpl))

	require.Len(t, templates.saved, 1)
	assert.Equal(t, tmpl, templates.saved[0])
	assert.Equal(t, tmpl.Content, cache.sets["template:custom"])
}

func TestBroadcastNewBook(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(&stubLoans{}, gw)

	book := model.Book{Title: "Hyperion", Author: "Dan Simmons", Genre: "Sci-Fi"}
	id, err := svc.BroadcastNewBook(context.Background(), retry.Strategy{}, "12345@g.us", book)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, gw.calls, 1)
	assert.Equal(t, "12345@g.us", gw.calls[0].dest)
	assert.Equal(t, "New: Hyperion by Dan Simmons (Sci-Fi)", gw.calls[0].text)
}

func TestSendToUserValidation(t *testing.T) {
	gw := &stubGateway{}
	svc, _ := newTestService(&stubLoans{}, gw)

	_, err := svc.SendToUser("", "hello")
	assert.Error(t, err)

	_, err = svc.SendToUser("61400000001", "  ")
	assert.Error(t, err)

	assert.Empty(t, gw.calls)
}

func TestGatewayStatus(t *testing.T) {
	gw := &stubGateway{probeErr: errors.New("connection_error")}
	svc, _ := newTestService(&stubLoans{}, gw)

	err := svc.GatewayStatus()
	require.Error(t, err)
	assert.Equal(t, "connection_error", err.Error())
	assert.Empty(t, gw.calls, "a probe is not a dispatch attempt")
}
