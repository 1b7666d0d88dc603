package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/screenqa/screenqa/internal/pipeline"
	"github.com/screenqa/screenqa/pkg/events"
	"github.com/screenqa/screenqa/pkg/ratelimit"
)

// ServiceName is the fully qualified Connect service name.
const ServiceName = "screenqa.v1.ControlService"

// Procedure paths.
const (
	AskProcedure         = "/" + ServiceName + "/Ask"
	StatusProcedure      = "/" + ServiceName + "/Status"
	ResetBudgetProcedure = "/" + ServiceName + "/ResetBudget"
)

type AskRequest struct {
	Text string `json:"text"`
}

type AskResponse struct {
	Outcome string `json:"outcome"`
}

type StatusRequest struct {
	// RecentEvents limits how many journal entries are returned.
	RecentEvents int `json:"recent_events,omitempty"`
}

type StatusResponse struct {
	Pipeline  pipeline.Stats        `json:"pipeline"`
	Budget    *ratelimit.RateBudget `json:"budget,omitempty"`
	Remaining int                   `json:"remaining"`
	Providers []string              `json:"providers"`
	Breakers  map[string]string     `json:"breakers"`
	Events    []events.Envelope     `json:"events,omitempty"`
}

type ResetBudgetRequest struct{}

type ResetBudgetResponse struct {
	Budget ratelimit.RateBudget `json:"budget"`
}

// Pipeline is the part of the pipeline the control API drives.
type Pipeline interface {
	Submit(ctx context.Context, text string) pipeline.Outcome
	Stats() pipeline.Stats
}

// Budget exposes the rate limiter counters.
type Budget interface {
	Budget() ratelimit.RateBudget
	ResetBudget()
}

// ChainInfo describes the provider chain.
type ChainInfo interface {
	Providers() []string
	BreakerStates() map[string]string
}

// Service implements the control procedures.
type Service struct {
	pipeline  Pipeline
	budget    Budget
	chain     ChainInfo
	journal   *events.Journal
	publisher *events.Publisher
}

// NewService creates a control service. budget, chain and journal may be nil.
func NewService(p Pipeline, budget Budget, chain ChainInfo, journal *events.Journal, pub *events.Publisher) *Service {
	return &Service{pipeline: p, budget: budget, chain: chain, journal: journal, publisher: pub}
}

// Ask runs text through the pipeline as if it had been read from the screen.
func (s *Service) Ask(ctx context.Context, req *connect.Request[AskRequest]) (*connect.Response[AskResponse], error) {
	text := strings.TrimSpace(req.Msg.Text)
	if text == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("text is required"))
	}
	outcome := s.pipeline.Submit(ctx, text)
	return connect.NewResponse(&AskResponse{Outcome: string(outcome)}), nil
}

// Status reports pipeline counters, budget and breaker states.
func (s *Service) Status(_ context.Context, req *connect.Request[StatusRequest]) (*connect.Response[StatusResponse], error) {
	return connect.NewResponse(s.status(req.Msg.RecentEvents)), nil
}

// ResetBudget zeroes the call budget and starts a new window.
func (s *Service) ResetBudget(ctx context.Context, _ *connect.Request[ResetBudgetRequest]) (*connect.Response[ResetBudgetResponse], error) {
	if s.budget == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, errors.New("no rate limiter configured"))
	}
	s.budget.ResetBudget()
	b := s.budget.Budget()

	slog.InfoContext(ctx, "control: budget reset", slog.Int("max_calls", b.MaxCalls))
	if err := s.publisher.Emit(ctx, events.BudgetReset, &b); err != nil {
		slog.WarnContext(ctx, "control: emit budget reset", slog.String("error", err.Error()))
	}
	return connect.NewResponse(&ResetBudgetResponse{Budget: b}), nil
}

func (s *Service) status(recent int) *StatusResponse {
	resp := &StatusResponse{
		Pipeline:  s.pipeline.Stats(),
		Providers: []string{},
		Breakers:  map[string]string{},
	}
	if s.budget != nil {
		b := s.budget.Budget()
		resp.Budget = &b
		resp.Remaining = b.Remaining()
	}
	if s.chain != nil {
		resp.Providers = s.chain.Providers()
		resp.Breakers = s.chain.BreakerStates()
	}
	if s.journal != nil {
		if recent <= 0 {
			recent = 20
		}
		resp.Events = s.journal.Recent(recent)
	}
	return resp
}

// NewHandler mounts the control procedures and returns the path prefix to
// register on a mux.
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(AskProcedure, connect.NewUnaryHandler(AskProcedure, s.Ask, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(ResetBudgetProcedure, connect.NewUnaryHandler(ResetBudgetProcedure, s.ResetBudget, opts...))
	return "/" + ServiceName + "/", mux
}

// StatusHandler serves the status as plain JSON for GET requests.
func (s *Service) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.status(0))
	})
}

// Client calls a remote control service.
type Client struct {
	ask         *connect.Client[AskRequest, AskResponse]
	status      *connect.Client[StatusRequest, StatusResponse]
	resetBudget *connect.Client[ResetBudgetRequest, ResetBudgetResponse]
}

// NewClient creates a control client for baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		ask:         connect.NewClient[AskRequest, AskResponse](httpClient, baseURL+AskProcedure, opts...),
		status:      connect.NewClient[StatusRequest, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		resetBudget: connect.NewClient[ResetBudgetRequest, ResetBudgetResponse](httpClient, baseURL+ResetBudgetProcedure, opts...),
	}
}

func (c *Client) Ask(ctx context.Context, text string) (string, error) {
	resp, err := c.ask.CallUnary(ctx, connect.NewRequest(&AskRequest{Text: text}))
	if err != nil {
		return "", err
	}
	return resp.Msg.Outcome, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&StatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) ResetBudget(ctx context.Context) (ratelimit.RateBudget, error) {
	resp, err := c.resetBudget.CallUnary(ctx, connect.NewRequest(&ResetBudgetRequest{}))
	if err != nil {
		return ratelimit.RateBudget{}, err
	}
	return resp.Msg.Budget, nil
}
