// Package httpapi 探针管理接口，单一入口按 method 分发
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"hookguard/internal/storage/model"
	"hookguard/internal/storage/repo"
	"hookguard/internal/telemetry"
	"hookguard/pkg/errx"
)

// RuleStat 单条规则的状态
type RuleStat struct {
	Name        string           `json:"name"`
	RulespackID string           `json:"rulespackId"`
	Hookpoint   string           `json:"hookpoint"`
	Block       bool             `json:"block"`
	Test        bool             `json:"test"`
	CallCounts  map[string]int64 `json:"callCounts,omitempty"`
}

// PipelineStat 上报管道状态
type PipelineStat struct {
	Queues   []telemetry.QueueStats `json:"queues"`
	Reporter telemetry.ReporterStats `json:"reporter"`
}

// Service 管理接口依赖的探针能力
type Service interface {
	RuleStats() []RuleStat
	PipelineStats() PipelineStat
	QueryAttacks(ctx context.Context, q repo.AttackQuery) ([]*model.AttackRecord, int64, error)
	MetricTotals(ctx context.Context, name string) (map[string]int64, error)
}

// Server 管理接口
type Server struct {
	svc Service
}

// NewServer 创建管理接口
func NewServer(svc Service) *Server {
	return &Server{svc: svc}
}

// Request 通用请求
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Response 通用响应
type Response struct {
	ID     string       `json:"id,omitempty"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

// ErrorObject 错误信息
type ErrorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiError 内部错误类型
type ApiError struct {
	Code   string
	Status int
	Err    error
}

func (e ApiError) withError(err error) ApiError {
	e.Err = err
	return e
}

var (
	ErrInvalidRequest = ApiError{Code: "invalid_request", Status: http.StatusBadRequest}
	ErrMethodNotFound = ApiError{Code: "method_not_found", Status: http.StatusNotFound}
	ErrInvalidParams  = ApiError{Code: "invalid_params", Status: http.StatusBadRequest}
	ErrUnavailable    = ApiError{Code: "unavailable", Status: http.StatusServiceUnavailable}
	ErrInternal       = ApiError{Code: "internal", Status: http.StatusInternalServerError}
)

// ServeHTTP 只接受 POST
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest.withError(err))
		return
	}
	status, res := s.dispatch(r.Context(), &req)
	writeJSON(w, status, res)
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *ApiError)

func (s *Server) dispatch(ctx context.Context, req *Request) (int, *Response) {
	handlers := map[string]handlerFunc{
		"rules.list":     s.handleRulesList,
		"stats.pipeline": s.handleStatsPipeline,
		"attacks.query":  s.handleAttacksQuery,
		"metrics.totals": s.handleMetricsTotals,
	}
	h, ok := handlers[req.Method]
	if !ok {
		e := ErrMethodNotFound.withError(errors.New(req.Method))
		return e.Status, &Response{ID: req.ID, Error: toErrorObject(e)}
	}
	result, apiErr := h(ctx, req.Params)
	if apiErr != nil {
		return apiErr.Status, &Response{ID: req.ID, Error: toErrorObject(*apiErr)}
	}
	return http.StatusOK, &Response{ID: req.ID, Result: result}
}

func (s *Server) handleRulesList(context.Context, json.RawMessage) (any, *ApiError) {
	return s.svc.RuleStats(), nil
}

func (s *Server) handleStatsPipeline(context.Context, json.RawMessage) (any, *ApiError) {
	return s.svc.PipelineStats(), nil
}

type attacksQueryParams struct {
	RuleName    string `json:"ruleName"`
	RulespackID string `json:"rulespackId"`
	ClientIP    string `json:"clientIp"`
	OnlyBlocked bool   `json:"onlyBlocked"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
}

type attacksQueryResult struct {
	Total int64                 `json:"total"`
	Items []*model.AttackRecord `json:"items"`
}

func (s *Server) handleAttacksQuery(ctx context.Context, params json.RawMessage) (any, *ApiError) {
	var p attacksQueryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			e := ErrInvalidParams.withError(err)
			return nil, &e
		}
	}
	items, total, err := s.svc.QueryAttacks(ctx, repo.AttackQuery{
		RuleName:    p.RuleName,
		RulespackID: p.RulespackID,
		ClientIP:    p.ClientIP,
		OnlyBlocked: p.OnlyBlocked,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		Page:        repo.Page{Page: defaultInt(p.Page, 1), Limit: defaultInt(p.Limit, 50)},
	})
	if err != nil {
		return nil, serviceError(err)
	}
	return attacksQueryResult{Total: total, Items: items}, nil
}

type metricsTotalsParams struct {
	Name string `json:"name"`
}

func (s *Server) handleMetricsTotals(ctx context.Context, params json.RawMessage) (any, *ApiError) {
	var p metricsTotalsParams
	if err := json.Unmarshal(params, &p); err != nil {
		e := ErrInvalidParams.withError(err)
		return nil, &e
	}
	if p.Name == "" {
		e := ErrInvalidParams.withError(errors.New("name is required"))
		return nil, &e
	}
	totals, err := s.svc.MetricTotals(ctx, p.Name)
	if err != nil {
		return nil, serviceError(err)
	}
	return totals, nil
}

func serviceError(err error) *ApiError {
	var e ApiError
	if errors.Is(err, errx.ErrUnsupported) {
		e = ErrUnavailable.withError(err)
	} else {
		e = ErrInternal.withError(err)
	}
	return &e
}

func writeJSON(w http.ResponseWriter, status int, res *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, apiErr ApiError) {
	writeJSON(w, apiErr.Status, &Response{Error: toErrorObject(apiErr)})
}

func toErrorObject(e ApiError) *ErrorObject {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorObject{Code: e.Code, Message: msg}
}

func defaultInt(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
