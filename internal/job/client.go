// Package job submits questions to the remote engine and polls their
// jobs to a terminal state under a bounded schedule.
package job

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/gateway"
	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/clock"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/logger"
	"github.com/philippe-spaceship/spaceship-chat-app/pkg/metrics"
)

// Operation names used for logs and metrics.
const (
	OpCreate = "create-job"
	OpStatus = "get-job"
)

const defaultFailureReason = "Job processing failed"

// Gateway is the subset of gateway.Gateway the client needs.
type Gateway interface {
	Call(ctx context.Context, op gateway.Operation, out any) error
}

// Config holds the engine endpoints and the polling schedule.
type Config struct {
	CreateURL string
	StatusURL string

	PollInterval time.Duration
	MaxPolls     int

	MaxQuestionLength int
	HistoryLimit      int
	InitialTopK       int
	TopK              int
}

// DefaultConfig polls every 2s for at most 150 checks.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		MaxPolls:          150,
		MaxQuestionLength: 1000,
		HistoryLimit:      10,
		InitialTopK:       25,
		TopK:              8,
	}
}

// Client runs jobs against the remote engine.
type Client struct {
	cfg     Config
	gateway Gateway
	clock   clock.Clock
	logger  *logger.Logger
}

// NewClient creates a job client. Zero-valued schedule fields fall back
// to DefaultConfig.
func NewClient(cfg Config, gw Gateway, clk clock.Clock, log *logger.Logger) *Client {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = def.MaxQuestionLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.InitialTopK <= 0 {
		cfg.InitialTopK = def.InitialTopK
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Client{
		cfg:     cfg,
		gateway: gw,
		clock:   clk,
		logger:  logger.OrNop(log).Named("job"),
	}
}

// HistoryLimit is the number of history items sent with a question.
func (c *Client) HistoryLimit() int {
	return c.cfg.HistoryLimit
}

// ValidateQuestion checks a question without touching the network.
func ValidateQuestion(question string, maxLen int) error {
	if strings.TrimSpace(question) == "" {
		return model.InvalidInput("validate", "Question cannot be empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(question) > maxLen {
		return model.InvalidInput("validate", "Question must be "+strconv.Itoa(maxLen)+" characters or less")
	}
	return nil
}

// Validate checks a question against this client's limits.
func (c *Client) Validate(question string) error {
	return ValidateQuestion(question, c.cfg.MaxQuestionLength)
}

type createPayload struct {
	Question       string              `json:"question"`
	ConversationID string              `json:"conversation_id"`
	UserID         string              `json:"user_id"`
	HistoryLimit   int                 `json:"history_limit"`
	InitialTopK    int                 `json:"initial_top_k"`
	TopK           int                 `json:"top_k"`
	History        []model.HistoryTurn `json:"history"`
}

// Submit creates a job. Invalid questions are rejected before any call.
func (c *Client) Submit(ctx context.Context, req model.JobRequest) (model.JobHandle, error) {
	if err := c.Validate(req.Question); err != nil {
		return model.JobHandle{}, err
	}

	payload := createPayload{
		Question:       strings.TrimSpace(req.Question),
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		HistoryLimit:   c.cfg.HistoryLimit,
		InitialTopK:    c.cfg.InitialTopK,
		TopK:           c.cfg.TopK,
		History:        req.History,
	}
	if payload.ConversationID == "" {
		payload.ConversationID = strconv.FormatInt(c.clock.Now().UnixMilli(), 10)
	}
	if payload.UserID == "" {
		payload.UserID = "guest"
	}
	if payload.History == nil {
		payload.History = []model.HistoryTurn{}
	}

	var handle model.JobHandle
	err := c.gateway.Call(ctx, gateway.Operation{
		Name:    OpCreate,
		Method:  http.MethodPost,
		URL:     c.cfg.CreateURL,
		Payload: payload,
	}, &handle)
	if err != nil {
		if ctx.Err() != nil {
			return model.JobHandle{}, ctx.Err()
		}
		metrics.RecordJob("submission_failed", 0)
		return model.JobHandle{}, &model.Error{Kind: model.KindSubmissionFailed, Op: OpCreate, Err: err}
	}
	if handle.ID == "" {
		metrics.RecordJob("submission_failed", 0)
		return model.JobHandle{}, &model.Error{
			Kind: model.KindSubmissionFailed,
			Op:   OpCreate,
			Err:  model.Malformed(OpCreate, errors.New("no jobId in response")),
		}
	}

	c.logger.Info("job submitted",
		zap.String("job_id", handle.ID),
		zap.String("conversation_id", payload.ConversationID),
		zap.Int("history", len(payload.History)),
	)
	return handle, nil
}

// statusResponse is the engine's reply to a status check.
type statusResponse struct {
	Status          model.JobStatus  `json:"status"`
	Result          string           `json:"result"`
	Sources         []model.Source   `json:"sources"`
	ResponsePayload *responsePayload `json:"responsePayload"`
	Error           string           `json:"error"`
}

type responsePayload struct {
	UserMessageID      string      `json:"user_message_id"`
	AssistantMessageID string      `json:"assistant_message_id"`
	EmailDraft         *emailDraft `json:"email_draft"`
}

type emailDraft struct {
	Subject      string `json:"subject"`
	BodyMarkdown string `json:"body_markdown"`
	ContactInfo  struct {
		Email string `json:"email"`
	} `json:"contact_info"`
}

// StatusFunc observes every status check. attempt is 1-based.
type StatusFunc func(attempt int, status model.JobStatus)

// Poll checks the job until it reaches a terminal status, the poll ceiling
// is hit or ctx is done. Each check is preceded by a PollInterval wait.
func (c *Client) Poll(ctx context.Context, jobID string, onStatus StatusFunc) (*model.JobResult, error) {
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	log := c.logger.With(zap.String("job_id", jobID))
	statusURL := c.statusURL(jobID)

	for attempt := 1; attempt <= c.cfg.MaxPolls; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.RecordJob("abandoned", attempt-1)
			return nil, err
		}
		select {
		case <-c.clock.After(c.cfg.PollInterval):
		case <-ctx.Done():
			metrics.RecordJob("abandoned", attempt-1)
			return nil, ctx.Err()
		}

		var resp statusResponse
		err := c.gateway.Call(ctx, gateway.Operation{
			Name:   OpStatus,
			Method: http.MethodGet,
			URL:    statusURL,
		}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				metrics.RecordJob("abandoned", attempt)
				return nil, ctx.Err()
			}
			metrics.RecordJob("failed", attempt)
			log.Warn("status check failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}

		if onStatus != nil {
			onStatus(attempt, resp.Status)
		}
		log.Debug("status checked", zap.Int("attempt", attempt), zap.String("status", string(resp.Status)))

		switch resp.Status {
		case model.JobDone:
			if strings.TrimSpace(resp.Result) == "" {
				metrics.RecordJob("malformed", attempt)
				return nil, model.Malformed(OpStatus, errors.New("job finished without an answer"))
			}
			metrics.RecordJob("done", attempt)
			log.Info("job done", zap.Int("checks", attempt))
			return resultFrom(jobID, resp), nil

		case model.JobError:
			reason := resp.Error
			if reason == "" {
				reason = defaultFailureReason
			}
			metrics.RecordJob("failed", attempt)
			log.Warn("job failed", zap.Int("checks", attempt), zap.String("reason", reason))
			return nil, &model.Error{Kind: model.KindJobFailed, Op: OpStatus, Reason: reason}
		}
	}

	metrics.RecordJob("timed_out", c.cfg.MaxPolls)
	log.Warn("job timed out", zap.Int("checks", c.cfg.MaxPolls))
	return nil, &model.Error{
		Kind:   model.KindJobTimedOut,
		Op:     OpStatus,
		Reason: "no terminal status after " + strconv.Itoa(c.cfg.MaxPolls) + " checks",
	}
}

// Run submits req and polls the resulting job.
func (c *Client) Run(ctx context.Context, req model.JobRequest, onStatus StatusFunc) (*model.JobResult, error) {
	handle, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Poll(ctx, handle.ID, onStatus)
}

func (c *Client) statusURL(jobID string) string {
	u, err := url.Parse(c.cfg.StatusURL)
	if err != nil {
		return c.cfg.StatusURL + "?jobId=" + url.QueryEscape(jobID)
	}
	q := u.Query()
	q.Set("jobId", jobID)
	u.RawQuery = q.Encode()
	return u.String()
}

func resultFrom(jobID string, resp statusResponse) *model.JobResult {
	result := &model.JobResult{
		JobID:   jobID,
		Text:    resp.Result,
		Sources: resp.Sources,
	}
	if p := resp.ResponsePayload; p != nil {
		result.UserMessageID = p.UserMessageID
		result.AssistantMessageID = p.AssistantMessageID
		if d := p.EmailDraft; d != nil && (d.Subject != "" || d.BodyMarkdown != "") {
			recipient := d.ContactInfo.Email
			if recipient == "" {
				recipient = model.DefaultDraftRecipient
			}
			result.Draft = &model.EmailDraft{
				Subject:   d.Subject,
				Body:      d.BodyMarkdown,
				Recipient: recipient,
			}
		}
	}
	return result
}
