// Package handler 提供API处理器
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/internal/metrics"
	"github.com/paituan/paituan/pkg/dispatch"
	apperrors "github.com/paituan/paituan/pkg/errors"
	"github.com/paituan/paituan/pkg/model"
)

// DispatchHandler 调度中心API处理器
type DispatchHandler struct {
	service *dispatch.Service
}

// NewDispatchHandler 创建调度中心处理器
func NewDispatchHandler(service *dispatch.Service) *DispatchHandler {
	return &DispatchHandler{service: service}
}

// APIResponse 统一API响应
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Status 获取某日期的调度状态快照
// GET /api/v1/dispatch/status?org_id=&date=
func (h *DispatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, date, ok := h.orgAndDate(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetDispatchStatus(r.Context(), orgID, date)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, status)
}

// Runs 获取某日期的团次列表
// GET /api/v1/dispatch/runs?org_id=&date=
func (h *DispatchHandler) Runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, date, ok := h.orgAndDate(w, r)
	if !ok {
		return
	}

	runs, err := h.service.GetTourRuns(r.Context(), orgID, date)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, runs)
}

// Guides 获取某日期可参与派单的导游
// GET /api/v1/dispatch/guides?org_id=&date=
func (h *DispatchHandler) Guides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, date, ok := h.orgAndDate(w, r)
	if !ok {
		return
	}

	guides, err := h.service.GetAvailableGuides(r.Context(), orgID, date)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, guides)
}

// Timelines 获取某日期导游时间轴
// GET /api/v1/dispatch/timelines?org_id=&date=
func (h *DispatchHandler) Timelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, date, ok := h.orgAndDate(w, r)
	if !ok {
		return
	}

	timelines, err := h.service.GetGuideTimelines(r.Context(), orgID, date)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, timelines)
}

// Guests 获取游客详情
// GET /api/v1/dispatch/guests?org_id=&booking_id= 按预订返回单条详情；
// GET /api/v1/dispatch/guests?org_id=&run_key= 按团次返回详情列表。
func (h *DispatchHandler) Guests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	if raw := r.URL.Query().Get("booking_id"); raw != "" {
		bookingID, err := uuid.Parse(raw)
		if err != nil {
			h.sendError(w, apperrors.InvalidInput("booking_id", "预订ID非法"))
			return
		}
		detail, err := h.service.GetGuestDetailsForBooking(r.Context(), orgID, bookingID)
		if err != nil {
			h.sendError(w, err)
			return
		}
		h.sendJSON(w, detail)
		return
	}

	runKey := r.URL.Query().Get("run_key")
	if runKey == "" {
		h.sendError(w, apperrors.InvalidInput("run_key", "必须指定 booking_id 或 run_key"))
		return
	}

	details, err := h.service.GetGuestDetails(r.Context(), orgID, runKey)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, details)
}

// OptimizeRequest 自动派单请求
type OptimizeRequest struct {
	OrgID uuid.UUID `json:"org_id"`
	Date  string    `json:"date"`
}

// Optimize 执行一轮自动派单
// POST /api/v1/dispatch/optimize
func (h *DispatchHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil || req.Date == "" {
		h.sendError(w, apperrors.InvalidInput("org_id/date", "组织与日期不能为空"))
		return
	}

	start := time.Now()
	result, err := h.service.Optimize(r.Context(), req.OrgID, req.Date)
	metrics.RecordOptimize(err == nil, time.Since(start))
	if err != nil {
		h.sendError(w, err)
		return
	}

	for _, warning := range result.Warnings {
		metrics.RecordWarning(string(warning.Type))
	}
	metrics.SetDispatchEfficiency(req.OrgID.String(), result.Efficiency)

	h.sendJSON(w, result)
}

// ResolveRequest 预警处置请求
type ResolveRequest struct {
	OrgID      uuid.UUID        `json:"org_id"`
	Resolution model.Resolution `json:"resolution"`
}

// Resolve 执行预警处置
// POST /api/v1/dispatch/resolve
func (h *DispatchHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil {
		h.sendError(w, apperrors.InvalidInput("org_id", "组织不能为空"))
		return
	}

	outcome, err := h.service.ResolveWarning(r.Context(), req.OrgID, &req.Resolution)
	if err != nil {
		h.sendError(w, err)
		return
	}
	metrics.RecordResolution(string(outcome.Action), outcome.Applied)

	h.sendJSON(w, outcome)
}

// AssignRequest 人工指派请求
type AssignRequest struct {
	OrgID             uuid.UUID  `json:"org_id"`
	BookingID         uuid.UUID  `json:"booking_id"`
	GuideID           *uuid.UUID `json:"guide_id,omitempty"`
	OutsourcedName    string     `json:"outsourced_name,omitempty"`
	OutsourcedContact string     `json:"outsourced_contact,omitempty"`
}

// Assign 人工指派导游到预订
// POST /api/v1/dispatch/assign
func (h *DispatchHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil || req.BookingID == uuid.Nil {
		h.sendError(w, apperrors.InvalidInput("org_id/booking_id", "组织与预订不能为空"))
		return
	}

	var assignment *model.GuideAssignment
	var err error
	if req.GuideID != nil {
		assignment, err = h.service.ManualAssign(r.Context(), req.OrgID, req.BookingID, *req.GuideID)
	} else {
		assignment, err = h.service.AssignOutsourced(r.Context(), req.OrgID, req.BookingID,
			req.OutsourcedName, req.OutsourcedContact)
	}
	metrics.RecordAssignmentAction("assign", err == nil)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendJSON(w, assignment)
}

// UnassignRequest 取消预订分配请求
type UnassignRequest struct {
	OrgID     uuid.UUID `json:"org_id"`
	BookingID uuid.UUID `json:"booking_id"`
}

// Unassign 取消某预订的全部分配
// POST /api/v1/dispatch/unassign
func (h *DispatchHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UnassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil || req.BookingID == uuid.Nil {
		h.sendError(w, apperrors.InvalidInput("org_id/booking_id", "组织与预订不能为空"))
		return
	}

	err := h.service.Unassign(r.Context(), req.OrgID, req.BookingID)
	metrics.RecordAssignmentAction("unassign", err == nil)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendJSON(w, map[string]bool{"unassigned": true})
}

// AssignmentActionRequest 分配状态操作请求
type AssignmentActionRequest struct {
	OrgID        uuid.UUID `json:"org_id"`
	AssignmentID uuid.UUID `json:"assignment_id"`
	Reason       string    `json:"reason,omitempty"`
}

// ConfirmAssignment 确认分配
// POST /api/v1/dispatch/assignments/confirm
func (h *DispatchHandler) ConfirmAssignment(w http.ResponseWriter, r *http.Request) {
	h.assignmentAction(w, r, "confirm", func(req *AssignmentActionRequest) (interface{}, error) {
		return h.service.ConfirmAssignment(r.Context(), req.OrgID, req.AssignmentID)
	})
}

// DeclineAssignment 拒绝分配
// POST /api/v1/dispatch/assignments/decline
func (h *DispatchHandler) DeclineAssignment(w http.ResponseWriter, r *http.Request) {
	h.assignmentAction(w, r, "decline", func(req *AssignmentActionRequest) (interface{}, error) {
		return h.service.DeclineAssignment(r.Context(), req.OrgID, req.AssignmentID, req.Reason)
	})
}

// CancelAssignment 取消分配
// POST /api/v1/dispatch/assignments/cancel
func (h *DispatchHandler) CancelAssignment(w http.ResponseWriter, r *http.Request) {
	h.assignmentAction(w, r, "cancel", func(req *AssignmentActionRequest) (interface{}, error) {
		if err := h.service.CancelAssignment(r.Context(), req.OrgID, req.AssignmentID); err != nil {
			return nil, err
		}
		return map[string]bool{"cancelled": true}, nil
	})
}

func (h *DispatchHandler) assignmentAction(w http.ResponseWriter, r *http.Request, action string, fn func(*AssignmentActionRequest) (interface{}, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AssignmentActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil || req.AssignmentID == uuid.Nil {
		h.sendError(w, apperrors.InvalidInput("org_id/assignment_id", "组织与分配不能为空"))
		return
	}

	data, err := fn(&req)
	metrics.RecordAssignmentAction(action, err == nil)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, data)
}

// ExecuteRequest 发车请求
type ExecuteRequest struct {
	OrgID uuid.UUID `json:"org_id"`
	Date  string    `json:"date"`
}

// Execute 发车：终态确认当日派单方案
// POST /api/v1/dispatch/execute
func (h *DispatchHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, apperrors.InvalidInput("body", "请求体解析失败: "+err.Error()))
		return
	}
	if req.OrgID == uuid.Nil || req.Date == "" {
		h.sendError(w, apperrors.InvalidInput("org_id/date", "组织与日期不能为空"))
		return
	}

	result, err := h.service.Dispatch(r.Context(), req.OrgID, req.Date)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, result)
}

// Assignments 获取某预订的全部分配
// GET /api/v1/dispatch/assignments?org_id=&booking_id=
func (h *DispatchHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orgID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	bookingID, err := uuid.Parse(r.URL.Query().Get("booking_id"))
	if err != nil {
		h.sendError(w, apperrors.InvalidInput("booking_id", "预订ID非法"))
		return
	}

	assignments, err := h.service.GetAssignmentsForBooking(r.Context(), orgID, bookingID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, assignments)
}

// orgAndDate 解析查询参数中的组织与日期
func (h *DispatchHandler) orgAndDate(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	orgID, ok := h.orgID(w, r)
	if !ok {
		return uuid.Nil, "", false
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		h.sendError(w, apperrors.InvalidInput("date", "日期不能为空"))
		return uuid.Nil, "", false
	}
	return orgID, date, true
}

func (h *DispatchHandler) orgID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(r.URL.Query().Get("org_id"))
	if err != nil {
		h.sendError(w, apperrors.InvalidInput("org_id", "组织ID非法"))
		return uuid.Nil, false
	}
	return orgID, true
}

func (h *DispatchHandler) sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (h *DispatchHandler) sendError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.GetHTTPStatus(err))
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    string(apperrors.GetCode(err)),
	})
}
