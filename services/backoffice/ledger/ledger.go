// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger is the contract usage ledger: it logs coaching sessions
// against prepaid contracts, keeping the balance invariant
// used_calls + left_calls == total_calls through conditional atomic
// batches, and registers new contracts into the report card cycle.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/reportcards"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// ValidationError rejects a request before any write: a group that fails
// the advisory pre-check, or a malformed contract or session.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "ledger: " + e.Reason }

// Recorder counts committed business operations.
type Recorder interface {
	SessionLogged()
	ContractCreated()
}

// NopRecorder discards all counts.
type NopRecorder struct{}

func (NopRecorder) SessionLogged()   {}
func (NopRecorder) ContractCreated() {}

// Event pairs one session with the contract snapshot it was validated
// against. The snapshot drives the advisory pre-check; commit-time
// conditions re-assert every authoritative field.
type Event struct {
	Contract datatypes.Contract
	Session  datatypes.SessionRecord
}

// Ledger applies usage and contract operations to the store.
type Ledger struct {
	store    storage.Store
	cycle    *reportcards.Cycle
	logger   *slog.Logger
	recorder Recorder
}

// New creates a ledger. nil logger and recorder select no-ops.
func New(store storage.Store, cycle *reportcards.Cycle, logger *slog.Logger, recorder Recorder) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Ledger{store: store, cycle: cycle, logger: logger, recorder: recorder}
}

// LogSessions logs a group of sessions.
//
// Phase 1 checks every event against its contract snapshot; any failure
// rejects the whole group with a ValidationError before a single write.
// Phase 2 commits one atomic batch per event: session insert, balance
// decrement, exhaustion flip, debrief tagging and report card linkage all
// apply together or not at all. Events already committed when a later
// batch fails stay committed; the returned count says how many did.
func (l *Ledger) LogSessions(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, &ValidationError{Reason: "no sessions to log"}
	}
	for _, ev := range events {
		if err := l.precheck(ev); err != nil {
			return 0, err
		}
	}

	for i, ev := range events {
		if err := l.commitSession(ctx, ev); err != nil {
			return i, fmt.Errorf("log session %s: %w", ev.Session.SessionID, err)
		}
		l.recorder.SessionLogged()
		l.logger.InfoContext(ctx, "session logged",
			slog.String("contract_id", ev.Session.ContractID),
			slog.String("session_id", ev.Session.SessionID),
			slog.Float64("units", ev.Session.Units))
	}
	return len(events), nil
}

// precheck is the advisory group gate, judged on the snapshot only.
func (l *Ledger) precheck(ev Event) error {
	if err := ev.Session.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	contract := ev.Contract
	if contract.ContractID != ev.Session.ContractID {
		return &ValidationError{Reason: fmt.Sprintf(
			"session %s does not belong to contract %s", ev.Session.SessionID, contract.ContractID)}
	}
	if contract.Status != datatypes.ContractActive {
		return &ValidationError{Reason: fmt.Sprintf("contract %s is not active", contract.ContractID)}
	}
	if contract.Unlimited {
		return nil
	}
	if !contract.MaxEndDate.IsZero() && ev.Session.Date > contract.MaxEndDate {
		return &ValidationError{Reason: fmt.Sprintf("contract %s is expired", contract.ContractID)}
	}
	if ev.Session.Units > contract.LeftCalls {
		return &ValidationError{Reason: fmt.Sprintf(
			"contract %s has %v left calls, session needs %v",
			contract.ContractID, contract.LeftCalls, ev.Session.Units)}
	}
	return nil
}

// commitSession builds and commits the atomic batch for one event.
func (l *Ledger) commitSession(ctx context.Context, ev Event) error {
	contract := ev.Contract
	session := ev.Session
	contractKey := storage.ContractKey(contract.ContractID)
	units := session.Units

	tx := storage.NewTransaction()

	// The contract must still be active at commit time.
	tx.Check(contractKey, storage.FieldEquals("status", string(datatypes.ContractActive)))

	if !contract.Unlimited {
		if contract.StartDate.IsZero() {
			// First session fixes the validity window, guarded against a
			// concurrent first session winning the race.
			maxEnd := datatypes.MaxEndDateFor(session.Date, contract.TotalCalls, contract.CallsPerWeek)
			tx.Update(contractKey,
				[]storage.Change{
					storage.Set("start_date", session.Date),
					storage.Set("max_end_date", maxEnd),
				},
				storage.ItemExists(),
				storage.FieldAbsent("start_date"))
		}
		if !contract.MaxEndDate.IsZero() {
			tx.Check(contractKey, storage.FieldAtLeast("max_end_date", string(session.Date)))
		}
		tx.Check(contractKey, storage.FieldAtLeast("left_calls", units))
	}

	// Tag the session when a debrief for this coach, student and date
	// already exists; otherwise pin its absence so a concurrent debrief
	// insert aborts one of the two batches.
	debriefKey := storage.DebriefKey(
		datatypes.DebriefID(session.StudentID, session.CoachID), session.Date)
	debrief, err := l.store.Get(ctx, debriefKey)
	if err != nil {
		return err
	}
	if debrief != nil {
		session.HasDebrief = true
	} else {
		tx.Check(debriefKey, storage.ItemNotExists())
	}

	fields, err := storage.Marshal(session)
	if err != nil {
		return err
	}
	tx.Put(storage.SessionKey(session.ContractID, session.SessionID), fields,
		storage.ItemNotExists())

	if !contract.Unlimited {
		tx.Update(contractKey,
			[]storage.Change{
				storage.Add("left_calls", -units),
				storage.Add("used_calls", units),
			},
			storage.ItemExists(),
			storage.FieldExists("left_calls"),
			storage.FieldExists("used_calls"),
			storage.FieldAtLeast("left_calls", units))

		// Exhaustion flip, judged on the pre-transaction balance: the flip
		// applies exactly when this session consumes what is left, and is
		// skipped otherwise without aborting the batch. The snapshot has no
		// say here, so a stale read can neither close an open contract nor
		// leave an exhausted one Active.
		tx.UpdateWhen(contractKey,
			[]storage.Condition{storage.FieldEquals("left_calls", units)},
			[]storage.Change{storage.Set("status", datatypes.ContractInactive)},
			storage.ItemExists(),
			storage.FieldExists("left_calls"))
	}

	if err := l.cycle.ContributeForSession(ctx, tx, contract, session); err != nil {
		return err
	}

	_, err = l.store.Transact(ctx, tx)
	return err
}

// CreateContract registers a new contract and wires it into the report
// card cycle in one atomic batch.
func (l *Ledger) CreateContract(ctx context.Context, contract datatypes.Contract) error {
	if err := contract.Validate(); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	fields, err := storage.Marshal(contract)
	if err != nil {
		return err
	}
	tx := storage.NewTransaction().
		Put(storage.ContractKey(contract.ContractID), fields, storage.ItemNotExists())

	err = l.cycle.ContributeForNewContract(ctx, tx, contract)
	switch {
	case errors.Is(err, reportcards.ErrRecipientsMismatch),
		errors.Is(err, reportcards.ErrMisalignedStartMonth):
		return &ValidationError{Reason: err.Error()}
	case err != nil:
		return err
	}

	if _, err := l.store.Transact(ctx, tx); err != nil {
		return fmt.Errorf("create contract %s: %w", contract.ContractID, err)
	}
	l.recorder.ContractCreated()
	l.logger.InfoContext(ctx, "contract created",
		slog.String("contract_id", contract.ContractID),
		slog.String("student_id", contract.StudentID))
	return nil
}

// ContractsByID reads a set of contracts in one transactional batch,
// returning them in request order with nil for absent ids.
func (l *Ledger) ContractsByID(ctx context.Context, ids []string) ([]*datatypes.Contract, error) {
	tx := storage.NewTransaction()
	for _, id := range ids {
		tx.Get(storage.ContractKey(id))
	}
	recs, err := l.store.Transact(ctx, tx)
	if err != nil {
		return nil, err
	}
	out := make([]*datatypes.Contract, len(recs))
	for i, rec := range recs {
		if rec == nil {
			continue
		}
		var contract datatypes.Contract
		if err := rec.Decode(&contract); err != nil {
			return nil, err
		}
		out[i] = &contract
	}
	return out, nil
}

// StudentContracts lists every contract of one student.
func (l *Ledger) StudentContracts(ctx context.Context, studentID string) ([]datatypes.Contract, error) {
	recs, err := l.store.Scan(ctx, storage.TableContracts,
		storage.FieldEquals("student_id", studentID))
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.Contract, 0, len(recs))
	for _, rec := range recs {
		var contract datatypes.Contract
		if err := rec.Decode(&contract); err != nil {
			return nil, err
		}
		out = append(out, contract)
	}
	return out, nil
}

// ContractSessions lists the session records of one contract in sort key
// order.
func (l *Ledger) ContractSessions(ctx context.Context, contractID string) ([]datatypes.SessionRecord, error) {
	recs, err := l.store.Query(ctx, storage.SessionPartition(contractID))
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.SessionRecord, 0, len(recs))
	for _, rec := range recs {
		var session datatypes.SessionRecord
		if err := rec.Decode(&session); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}
