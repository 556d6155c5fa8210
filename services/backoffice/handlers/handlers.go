// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the back office over HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/smartalk-online/backoffice/pkg/ids"
	"github.com/smartalk-online/backoffice/pkg/logging"
	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/debriefs"
	"github.com/smartalk-online/backoffice/services/backoffice/ledger"
	"github.com/smartalk-online/backoffice/services/backoffice/reportcards"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// ServiceVersion is the back office service version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the back office.
type Handlers struct {
	store    storage.Store
	ledger   *ledger.Ledger
	cycle    *reportcards.Cycle
	closeout *reportcards.CloseOut
	debriefs *debriefs.Service
	logger   *slog.Logger
}

// NewHandlers creates handlers over the given services.
func NewHandlers(
	store storage.Store,
	l *ledger.Ledger,
	cycle *reportcards.Cycle,
	closeout *reportcards.CloseOut,
	d *debriefs.Service,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		store:    store,
		ledger:   l,
		cycle:    cycle,
		closeout: closeout,
		debriefs: d,
		logger:   logger,
	}
}

// RegisterRoutes registers all endpoints on the given group.
func RegisterRoutes(r *gin.RouterGroup, h *Handlers) {
	r.GET("/health", h.HandleHealth)

	r.POST("/calls", h.HandleLogCalls)
	r.POST("/contracts", h.HandleCreateContract)
	r.GET("/students/:student_id/contracts", h.HandleStudentContracts)
	r.GET("/contracts/:contract_id/sessions", h.HandleContractSessions)

	r.POST("/report-cards/draft", h.HandleDraft)
	r.POST("/report-cards/complete", h.HandleComplete)
	r.POST("/report-cards/restore", h.HandleRestore)
	r.POST("/closeout", h.HandleCloseOut)

	r.POST("/debriefs", h.HandleCreateDebrief)
	r.GET("/debriefs/:student_id/:coach_id", h.HandleListDebriefs)
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// requestLogger derives the per-request logger: request id, handler name
// and, when a span is recording, the trace context.
func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	requestID := getOrCreateRequestID(c)
	return logging.WithTrace(c.Request.Context(), h.logger).
		With("request_id", requestID, "handler", handler)
}

// writeDomainError maps service errors onto HTTP statuses.
func (h *Handlers) writeDomainError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *ledger.ValidationError
	var cerr *reportcards.ConsistencyError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: verr.Reason,
			Code:  "VALIDATION_FAILED",
		})
	case errors.As(err, &cerr):
		logger.Error("consistency violation", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "CONSISTENCY_ERROR",
		})
	case errors.Is(err, storage.ErrTransactionAborted):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "a conflicting change was committed first, retry the request",
			Code:  "TRANSACTION_ABORTED",
		})
	default:
		logger.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  "INTERNAL",
		})
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": ServiceVersion})
}

// HandleLogCalls handles POST /calls.
//
// The group is validated as a whole; any invalid call rejects all of
// them. Valid groups commit one atomic batch per call.
func (h *Handlers) HandleLogCalls(c *gin.Context) {
	logger := h.requestLogger(c, "HandleLogCalls")

	var req LogCallsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	contractIDs := make([]string, len(req.Calls))
	for i, call := range req.Calls {
		contractIDs[i] = call.ContractID
	}
	contracts, err := h.ledger.ContractsByID(c.Request.Context(), contractIDs)
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}

	events := make([]ledger.Event, len(req.Calls))
	for i, call := range req.Calls {
		if contracts[i] == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "contract " + call.ContractID + " does not exist",
				Code:  "CONTRACT_NOT_FOUND",
			})
			return
		}
		date := datatypes.Date(call.Date)
		events[i] = ledger.Event{
			Contract: *contracts[i],
			Session: datatypes.SessionRecord{
				ContractID: call.ContractID,
				SessionID:  datatypes.SessionID(call.CoachID, call.StudentID, date),
				CoachID:    call.CoachID,
				StudentID:  call.StudentID,
				ProductID:  contracts[i].ProductID,
				Date:       date,
				Units:      call.Units,
				Duration:   call.Duration,
				Attendance: call.Attendance,
				Notes:      call.Notes,
			},
		}
	}

	logged, err := h.ledger.LogSessions(c.Request.Context(), events)
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, LogCallsResponse{Logged: logged})
}

// HandleCreateContract handles POST /contracts.
func (h *Handlers) HandleCreateContract(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateContract")

	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	contractID, err := ids.Reserve(ids.DefaultAttempts,
		func() string { return ids.New("contract") },
		func(id string) (bool, error) {
			rec, err := h.store.Get(c.Request.Context(), storage.ContractKey(id))
			return rec != nil, err
		})
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}

	contract := datatypes.Contract{
		ContractID:   contractID,
		StudentID:    req.StudentID,
		ClientID:     req.ClientID,
		ProductID:    req.ProductID,
		Status:       datatypes.ContractActive,
		Unlimited:    req.Unlimited,
		TotalCalls:   req.TotalCalls,
		LeftCalls:    req.TotalCalls,
		CallsPerWeek: req.CallsPerWeek,
	}
	if req.ReportCardCadency > 0 {
		contract.ReportCardCadency = req.ReportCardCadency
		contract.ReportCardStartMonth = datatypes.Month(req.ReportCardStartMonth)
		contract.ReportCardEmailRecipients = req.ReportCardEmailRecipients
		contract.ReportCardGeneratorID = datatypes.GeneratorID(
			req.StudentID, req.ClientID, req.ReportCardCadency)
	}

	if err := h.ledger.CreateContract(c.Request.Context(), contract); err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, CreateContractResponse{ContractID: contractID})
}

// HandleStudentContracts handles GET /students/:student_id/contracts.
func (h *Handlers) HandleStudentContracts(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStudentContracts")

	contracts, err := h.ledger.StudentContracts(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

// HandleContractSessions handles GET /contracts/:contract_id/sessions.
func (h *Handlers) HandleContractSessions(c *gin.Context) {
	logger := h.requestLogger(c, "HandleContractSessions")

	sessions, err := h.ledger.ContractSessions(c.Request.Context(), c.Param("contract_id"))
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// HandleDraft handles POST /report-cards/draft.
func (h *Handlers) HandleDraft(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDraft")

	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	err := h.cycle.UpdateDraft(c.Request.Context(), req.ReportCardID,
		datatypes.Month(req.StartMonth), req.CoachID, req.Report, req.Attendance)
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// HandleComplete handles POST /report-cards/complete.
func (h *Handlers) HandleComplete(c *gin.Context) {
	logger := h.requestLogger(c, "HandleComplete")

	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	err := h.cycle.Complete(c.Request.Context(), req.ReportCardID,
		datatypes.Month(req.StartMonth), req.CoachID,
		datatypes.ReportCardStatus(req.FromStatus))
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// HandleRestore handles POST /report-cards/restore.
func (h *Handlers) HandleRestore(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRestore")

	var req RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	err := h.cycle.RestoreFromCompleted(c.Request.Context(),
		req.ReportCardID, datatypes.Month(req.StartMonth))
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

// HandleCloseOut handles POST /closeout.
func (h *Handlers) HandleCloseOut(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCloseOut")

	report, err := h.closeout.Run(c.Request.Context())
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleCreateDebrief handles POST /debriefs.
func (h *Handlers) HandleCreateDebrief(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateDebrief")

	var req DebriefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "INVALID_REQUEST"})
		return
	}

	debrief := datatypes.Debrief{
		DebriefID: datatypes.DebriefID(req.StudentID, req.CoachID),
		Date:      datatypes.Date(req.Date),
		StudentID: req.StudentID,
		CoachID:   req.CoachID,
		Goals:     req.Goals,
		Topics:    req.Topics,
	}
	if err := h.debriefs.Ensure(c.Request.Context(), debrief); err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"debrief_id": debrief.DebriefID, "date": debrief.Date})
}

// HandleListDebriefs handles GET /debriefs/:student_id/:coach_id.
func (h *Handlers) HandleListDebriefs(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListDebriefs")

	notes, err := h.debriefs.ByStudentAndCoach(c.Request.Context(),
		c.Param("student_id"), c.Param("coach_id"))
	if err != nil {
		h.writeDomainError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"debriefs": notes})
}
