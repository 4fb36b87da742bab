package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/ptc-library/notifier/internal/api/respond"
	"github.com/ptc-library/notifier/internal/config"
	"github.com/ptc-library/notifier/internal/model"
	templaterepo "github.com/ptc-library/notifier/internal/repository/template"
	notifysvc "github.com/ptc-library/notifier/internal/service/notify"
)

// notifyService defines the interface that the Handler depends on.
type notifyService interface {
	ActiveLoans(ctx context.Context) ([]model.Loan, error)
	Summary(ctx context.Context) (model.NotificationSummary, error)
	TemplateByType(ctx context.Context, strategy retry.Strategy, t model.TemplateType) (model.MessageTemplate, error)
	SaveTemplate(ctx context.Context, strategy retry.Strategy, tmpl model.MessageTemplate) error
	SendToUser(phone, message string) (string, error)
	SendToGroup(groupID, message string) (string, error)
	BroadcastNewBook(ctx context.Context, strategy retry.Strategy, groupID string, book model.Book) (string, error)
	GatewayStatus() error
	RunBulk(ctx context.Context, strategy retry.Strategy, kind model.TemplateType) (model.BatchResult, error)
}

// Handler handles HTTP requests for the notification API.
type Handler struct {
	service   notifyService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(s notifyService, v *validator.Validate, cfg *config.Config) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// SendUserRequest is the JSON body for a direct send to one user.
type SendUserRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Message     string `json:"message" validate:"required"`
}

// SendGroupRequest is the JSON body for a group send.
type SendGroupRequest struct {
	GroupID string `json:"group_id" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// BroadcastBookRequest is the JSON body for a new-book announcement.
type BroadcastBookRequest struct {
	GroupID string `json:"group_id"`
	Title   string `json:"title" validate:"required"`
	Author  string `json:"author" validate:"required"`
	Genre   string `json:"genre" validate:"required"`
}

// BulkRequest selects the notification kind for an interactive bulk send.
type BulkRequest struct {
	Kind string `json:"kind" validate:"required,oneof=due_reminder overdue_alert"`
}

// SaveTemplateRequest carries raw template content. Placeholders are not
// validated here: render time is the contract boundary for that.
type SaveTemplateRequest struct {
	Content string `json:"content" validate:"required"`
}

// SendResponse reports a successful direct send.
type SendResponse struct {
	MessageID string `json:"message_id,omitempty"`
}

// BulkResponse pairs the aggregate outcome line shown to the admin with the
// full batch result.
type BulkResponse struct {
	Message string            `json:"message"`
	Batch   model.BatchResult `json:"batch"`
}

// GatewayStatusResponse reports gateway reachability for the settings page.
type GatewayStatusResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// GetLoans handles GET requests for the decorated active-loan view.
func (h *Handler) GetLoans(c *ginext.Context) {
	loans, err := h.service.ActiveLoans(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list active loans")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, loans)
}

// GetSummary handles GET requests for pending-notification counts.
func (h *Handler) GetSummary(c *ginext.Context) {
	sum, err := h.service.Summary(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to build notification summary")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, sum)
}

// GetGatewayStatus handles GET requests probing the messaging gateway.
// The probe never counts as a dispatch attempt.
func (h *Handler) GetGatewayStatus(c *ginext.Context) {
	if err := h.service.GatewayStatus(); err != nil {
		respond.OK(c.Writer, GatewayStatusResponse{Connected: false, Error: err.Error()})
		return
	}

	respond.OK(c.Writer, GatewayStatusResponse{Connected: true})
}

// SendToUser handles POST requests sending one message to one phone number.
func (h *Handler) SendToUser(c *ginext.Context) {
	var req SendUserRequest
	if !h.decode(c, &req) {
		return
	}

	id, err := h.service.SendToUser(req.PhoneNumber, req.Message)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to send message to user")
		respond.Fail(c.Writer, http.StatusBadGateway, err)
		return
	}

	respond.OK(c.Writer, SendResponse{MessageID: id})
}

// SendToGroup handles POST requests sending one message to a group.
func (h *Handler) SendToGroup(c *ginext.Context) {
	var req SendGroupRequest
	if !h.decode(c, &req) {
		return
	}

	id, err := h.service.SendToGroup(req.GroupID, req.Message)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to send message to group")
		respond.Fail(c.Writer, http.StatusBadGateway, err)
		return
	}

	respond.OK(c.Writer, SendResponse{MessageID: id})
}

// BroadcastNewBook handles POST requests announcing a new book to the
// configured WhatsApp group.
func (h *Handler) BroadcastNewBook(c *ginext.Context) {
	var req BroadcastBookRequest
	if !h.decode(c, &req) {
		return
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = h.cfg.Evolution.GroupID
	}

	book := model.Book{Title: req.Title, Author: req.Author, Genre: req.Genre}

	id, err := h.service.BroadcastNewBook(c.Request.Context(), h.cfg.Retry, groupID, book)
	if err != nil {
		if errors.Is(err, templaterepo.ErrTemplateNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("new_book template not found"))
			return
		}

		zlog.Logger.Error().Err(err).Msg("failed to broadcast new book")
		respond.Fail(c.Writer, http.StatusBadGateway, err)
		return
	}

	respond.OK(c.Writer, SendResponse{MessageID: id})
}

// RunBulk handles POST requests for an interactive bulk send. Partial
// failure is not an error: the admin always gets the "sent X of Y" line
// with the full batch attached.
func (h *Handler) RunBulk(c *ginext.Context) {
	var req BulkRequest
	if !h.decode(c, &req) {
		return
	}

	result, err := h.service.RunBulk(c.Request.Context(), h.cfg.Retry, model.TemplateType(req.Kind))
	if err != nil {
		switch {
		case errors.Is(err, notifysvc.ErrNothingToSend):
			respond.OK(c.Writer, BulkResponse{Message: "nothing to send"})
		case errors.Is(err, notifysvc.ErrUnknownKind):
			respond.Fail(c.Writer, http.StatusBadRequest, err)
		case errors.Is(err, templaterepo.ErrTemplateNotFound):
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("%s template not found", req.Kind))
		default:
			zlog.Logger.Error().Err(err).Str("kind", req.Kind).Msg("bulk send failed")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.OK(c.Writer, BulkResponse{
		Message: fmt.Sprintf("sent %d of %d", result.Success, result.Total),
		Batch:   result,
	})
}

// GetTemplate handles GET requests for a template by type.
func (h *Handler) GetTemplate(c *ginext.Context) {
	t := model.TemplateType(c.Param("type"))

	tmpl, err := h.service.TemplateByType(c.Request.Context(), h.cfg.Retry, t)
	if err != nil {
		if errors.Is(err, templaterepo.ErrTemplateNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("template not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("type", string(t)).Msg("failed to get template")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, tmpl)
}

// SaveTemplate handles PUT requests storing template content for a type.
func (h *Handler) SaveTemplate(c *ginext.Context) {
	t := model.TemplateType(c.Param("type"))
	switch t {
	case model.TemplateDueReminder, model.TemplateOverdueAlert, model.TemplateNewBook, model.TemplateCustom:
	default:
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("unknown template type %q", t))
		return
	}

	var req SaveTemplateRequest
	if !h.decode(c, &req) {
		return
	}

	tmpl := model.MessageTemplate{Type: t, Content: req.Content}
	if err := h.service.SaveTemplate(c.Request.Context(), h.cfg.Retry, tmpl); err != nil {
		zlog.Logger.Error().Err(err).Str("type", string(t)).Msg("failed to save template")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, tmpl)
}

// decode parses and validates a JSON request body, writing the failure
// response itself. It reports whether the request may proceed.
func (h *Handler) decode(c *ginext.Context, req interface{}) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return false
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return false
	}

	return true
}
