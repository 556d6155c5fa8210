// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterStructValidation(validateContractRequest, CreateContractRequest{})
	}
}

// validateContractRequest covers the cross-field rules tags cannot:
// an unlimited contract carries no call balance.
func validateContractRequest(sl validator.StructLevel) {
	req := sl.Current().Interface().(CreateContractRequest)
	if req.Unlimited && (req.TotalCalls != 0 || req.CallsPerWeek != 0) {
		sl.ReportError(req.TotalCalls, "TotalCalls", "total_calls", "excluded_if", "")
	}
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// CallInput is one session to log.
type CallInput struct {
	ContractID string  `json:"contract_id" binding:"required"`
	CoachID    string  `json:"coach_id" binding:"required"`
	StudentID  string  `json:"student_id" binding:"required"`
	Date       string  `json:"date" binding:"required,datetime=2006-01-02"`
	Units      float64 `json:"units" binding:"required,gt=0"`
	Duration   int     `json:"duration" binding:"omitempty,gt=0"`
	Attendance string  `json:"attendance"`
	Notes      string  `json:"notes"`
}

// LogCallsRequest is the body of POST /calls: a group of sessions that is
// validated as a whole before any of them is committed.
type LogCallsRequest struct {
	Calls []CallInput `json:"calls" binding:"required,min=1,dive"`
}

// LogCallsResponse reports how many sessions of the group were committed.
type LogCallsResponse struct {
	Logged int `json:"logged"`
}

// CreateContractRequest is the body of POST /contracts.
type CreateContractRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ClientID  string `json:"client_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`

	Unlimited    bool    `json:"unlimited"`
	TotalCalls   float64 `json:"total_calls" binding:"required_if=Unlimited false,omitempty,gt=0"`
	CallsPerWeek float64 `json:"calls_per_week" binding:"required_if=Unlimited false,omitempty,gt=0"`

	ReportCardCadency         int    `json:"report_card_cadency" binding:"omitempty,min=1,max=12"`
	ReportCardStartMonth      string `json:"report_card_start_month" binding:"required_with=ReportCardCadency,omitempty,datetime=2006-01"`
	ReportCardEmailRecipients string `json:"report_card_email_recipients" binding:"required_with=ReportCardCadency"`
}

// CreateContractResponse returns the reserved contract id.
type CreateContractResponse struct {
	ContractID string `json:"contract_id"`
}

// DraftRequest is the body of POST /report-cards/draft.
type DraftRequest struct {
	ReportCardID string `json:"report_card_id" binding:"required"`
	StartMonth   string `json:"start_month" binding:"required,datetime=2006-01"`
	CoachID      string `json:"coach_id" binding:"required"`
	Report       string `json:"report"`
	Attendance   string `json:"attendance"`
}

// CompleteRequest is the body of POST /report-cards/complete.
type CompleteRequest struct {
	ReportCardID string `json:"report_card_id" binding:"required"`
	StartMonth   string `json:"start_month" binding:"required,datetime=2006-01"`
	CoachID      string `json:"coach_id" binding:"required"`
	FromStatus   string `json:"from_status" binding:"required,oneof=no_show draft"`
}

// RestoreRequest is the body of POST /report-cards/restore.
type RestoreRequest struct {
	ReportCardID string `json:"report_card_id" binding:"required"`
	StartMonth   string `json:"start_month" binding:"required,datetime=2006-01"`
}

// DebriefRequest is the body of POST /debriefs.
type DebriefRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	CoachID   string `json:"coach_id" binding:"required"`
	Date      string `json:"date" binding:"required,datetime=2006-01-02"`
	Goals     string `json:"goals"`
	Topics    string `json:"topics"`
}
