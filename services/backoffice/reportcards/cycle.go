// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reportcards drives the report card cycle: one generator per
// (student, client, cadence) triple owns a rolling period window, every
// period has exactly one card per student per client, and a reserved
// head-coach no_show placeholder guarantees coverage for periods nobody
// logged a session in.
package reportcards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// DefaultHeadCoach is the reserved owner of no_show placeholder cards.
const DefaultHeadCoach = "JJ"

// maxBackfillCycles bounds how far from the live window a new contract's
// start month may sit while still counting as the same recurrence.
const maxBackfillCycles = 12

var (
	// ErrRecipientsMismatch is returned when a contract joins an existing
	// generator with different email recipients.
	ErrRecipientsMismatch = errors.New("reportcards: email recipients differ from the existing recurrence")

	// ErrMisalignedStartMonth is returned when a contract's start month is
	// not a whole number of cadence steps from the existing window.
	ErrMisalignedStartMonth = errors.New("reportcards: start month is not aligned with the existing recurrence")
)

// ConsistencyError marks a state the cycle invariants say cannot exist,
// such as a generator whose window sits ahead of a session being logged.
// It is fatal: callers must surface it instead of retrying.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("reportcards: %s: %s", e.Op, e.Detail)
}

// Cycle appends report card operations to ledger transactions and owns the
// standalone card lifecycle updates.
type Cycle struct {
	store     storage.Store
	headCoach string
	logger    *slog.Logger
}

// NewCycle creates a cycle bound to a store. An empty headCoach selects
// DefaultHeadCoach.
func NewCycle(store storage.Store, headCoach string, logger *slog.Logger) *Cycle {
	if headCoach == "" {
		headCoach = DefaultHeadCoach
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cycle{store: store, headCoach: headCoach, logger: logger}
}

// HeadCoach returns the reserved placeholder owner.
func (c *Cycle) HeadCoach() string { return c.headCoach }

// monthReached reports whether date has entered month (month begins at or
// before date). ISO strings make this a prefix-aware string comparison.
func monthReached(m datatypes.Month, d datatypes.Date) bool {
	return string(m) <= string(d)
}

// ContributeForSession appends the card operations a logged session needs
// to tx: promote a no_show placeholder to draft, or materialize the
// coach's card for the covering period and clear the placeholder.
//
// Contracts without report card context contribute nothing. A generator
// that is missing, or whose window starts after the session date, is a
// ConsistencyError.
func (c *Cycle) ContributeForSession(
	ctx context.Context,
	tx *storage.Transaction,
	contract datatypes.Contract,
	session datatypes.SessionRecord,
) error {
	if !contract.HasReportCardContext() {
		return nil
	}
	generatorID := contract.ReportCardGeneratorID
	cardID := datatypes.ReportCardID(session.CoachID, generatorID)

	q := storage.ReportCardPartition(cardID)
	q.Filters = []storage.Condition{
		storage.FieldAtMost("start_month", string(session.Date)),
		storage.FieldGreaterThan("end_month", string(session.Date)),
	}
	q.Limit = 1
	existing, err := c.store.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("find report card %s: %w", cardID, err)
	}

	if len(existing) > 0 {
		var card datatypes.ReportCard
		if err := existing[0].Decode(&card); err != nil {
			return err
		}
		if card.Status == datatypes.ReportCardNoShow {
			tx.Update(storage.ReportCardKey(card.ReportCardID, card.StartMonth),
				[]storage.Change{storage.Set("status", datatypes.ReportCardDraft)},
				storage.ItemExists(),
				storage.FieldEquals("status", string(datatypes.ReportCardNoShow)))
		}
		return nil
	}

	rec, err := c.store.Get(ctx, storage.GeneratorKey(generatorID))
	if err != nil {
		return err
	}
	if rec == nil {
		return &ConsistencyError{Op: "resolve session card",
			Detail: fmt.Sprintf("generator %s referenced by contract %s does not exist",
				generatorID, contract.ContractID)}
	}
	var gen datatypes.ReportCardGenerator
	if err := rec.Decode(&gen); err != nil {
		return err
	}
	if !monthReached(gen.CurrentStartMonth, session.Date) {
		return &ConsistencyError{Op: "resolve session card",
			Detail: fmt.Sprintf("generator %s window starts %s, after session date %s",
				generatorID, gen.CurrentStartMonth, session.Date)}
	}

	card := datatypes.ReportCard{
		ReportCardID:          cardID,
		CoachID:               session.CoachID,
		StudentID:             gen.StudentID,
		ClientID:              gen.ClientID,
		Status:                datatypes.ReportCardDraft,
		ReportCardGeneratorID: generatorID,
		EmailRecipients:       gen.EmailRecipients,
		Cadency:               gen.Cadency,
	}
	if monthReached(gen.NextStartMonth, session.Date) {
		// The generator has not been rolled yet; the session opens the
		// next period directly.
		card.StartMonth = gen.NextStartMonth
		card.EndMonth = gen.NextStartMonth.AddMonths(gen.Cadency)
	} else {
		card.StartMonth = gen.CurrentStartMonth
		card.EndMonth = gen.NextStartMonth
	}

	fields, err := storage.Marshal(card)
	if err != nil {
		return err
	}
	tx.Put(storage.ReportCardKey(card.ReportCardID, card.StartMonth), fields,
		storage.ItemNotExists())

	// Clear the head-coach placeholder for the period, unless the session
	// coach is the head coach and the put above owns that key already.
	if session.CoachID != c.headCoach {
		placeholder := datatypes.ReportCardID(c.headCoach, generatorID)
		tx.Delete(storage.ReportCardKey(placeholder, card.StartMonth),
			storage.AnyOf(
				storage.ItemNotExists(),
				storage.FieldEquals("status", string(datatypes.ReportCardNoShow))))
	}
	return nil
}

// ContributeForNewContract appends the generator operations a new contract
// needs to tx: create the generator and seed its no_show placeholder, or
// join the existing recurrence, rolling its window backward when the
// contract starts before it.
func (c *Cycle) ContributeForNewContract(
	ctx context.Context,
	tx *storage.Transaction,
	contract datatypes.Contract,
) error {
	if !contract.HasReportCardContext() {
		return nil
	}
	generatorID := contract.ReportCardGeneratorID

	rec, err := c.store.Get(ctx, storage.GeneratorKey(generatorID))
	if err != nil {
		return err
	}

	if rec == nil {
		gen := datatypes.ReportCardGenerator{
			ReportCardGeneratorID: generatorID,
			StudentID:             contract.StudentID,
			ClientID:              contract.ClientID,
			Cadency:               contract.ReportCardCadency,
			EmailRecipients:       contract.ReportCardEmailRecipients,
			CurrentStartMonth:     contract.ReportCardStartMonth,
			NextStartMonth:        contract.ReportCardStartMonth.AddMonths(contract.ReportCardCadency),
		}
		fields, err := storage.Marshal(gen)
		if err != nil {
			return err
		}
		tx.Put(storage.GeneratorKey(generatorID), fields, storage.ItemNotExists())
		return c.seedPlaceholder(tx, gen, gen.CurrentStartMonth)
	}

	var gen datatypes.ReportCardGenerator
	if err := rec.Decode(&gen); err != nil {
		return err
	}
	if gen.EmailRecipients != contract.ReportCardEmailRecipients {
		return ErrRecipientsMismatch
	}
	if !gen.AlignedStartMonth(contract.ReportCardStartMonth, maxBackfillCycles) {
		return ErrMisalignedStartMonth
	}

	if contract.ReportCardStartMonth < gen.CurrentStartMonth {
		// The contract starts before the live window; roll the window
		// back so its periods get cards, and seed the new period.
		c.logger.DebugContext(ctx, "rolling generator window backward",
			slog.String("generator_id", generatorID),
			slog.String("from", string(gen.CurrentStartMonth)),
			slog.String("to", string(contract.ReportCardStartMonth)))
		gen.CurrentStartMonth = contract.ReportCardStartMonth
		gen.NextStartMonth = gen.CurrentStartMonth.AddMonths(gen.Cadency)
		tx.Update(storage.GeneratorKey(generatorID),
			[]storage.Change{
				storage.Set("current_start_month", gen.CurrentStartMonth),
				storage.Set("next_start_month", gen.NextStartMonth),
			},
			storage.ItemExists())
		return c.seedPlaceholder(tx, gen, gen.CurrentStartMonth)
	}
	return nil
}

// seedPlaceholder appends the no_show placeholder put for one period.
func (c *Cycle) seedPlaceholder(
	tx *storage.Transaction,
	gen datatypes.ReportCardGenerator,
	startMonth datatypes.Month,
) error {
	card := datatypes.ReportCard{
		ReportCardID:          datatypes.ReportCardID(c.headCoach, gen.ReportCardGeneratorID),
		StartMonth:            startMonth,
		EndMonth:              startMonth.AddMonths(gen.Cadency),
		CoachID:               c.headCoach,
		StudentID:             gen.StudentID,
		ClientID:              gen.ClientID,
		Status:                datatypes.ReportCardNoShow,
		ReportCardGeneratorID: gen.ReportCardGeneratorID,
		EmailRecipients:       gen.EmailRecipients,
		Cadency:               gen.Cadency,
	}
	fields, err := storage.Marshal(card)
	if err != nil {
		return err
	}
	tx.Put(storage.ReportCardKey(card.ReportCardID, card.StartMonth), fields,
		storage.ItemNotExists())
	return nil
}

// ---- card lifecycle updates ----

// UpdateDraft saves report and attendance on a draft card owned by coachID.
func (c *Cycle) UpdateDraft(
	ctx context.Context,
	cardID string,
	startMonth datatypes.Month,
	coachID, report, attendance string,
) error {
	tx := storage.NewTransaction().Update(
		storage.ReportCardKey(cardID, startMonth),
		[]storage.Change{
			storage.Set("report", report),
			storage.Set("attendance", attendance),
		},
		storage.ItemExists(),
		storage.FieldEquals("coach_id", coachID),
		storage.FieldEquals("status", string(datatypes.ReportCardDraft)))
	_, err := c.store.Transact(ctx, tx)
	return err
}

// Complete moves a no_show or draft card owned by coachID to completed.
// fromStatus is the status the caller saw; the condition re-asserts it.
func (c *Cycle) Complete(
	ctx context.Context,
	cardID string,
	startMonth datatypes.Month,
	coachID string,
	fromStatus datatypes.ReportCardStatus,
) error {
	if fromStatus != datatypes.ReportCardNoShow && fromStatus != datatypes.ReportCardDraft {
		return fmt.Errorf("reportcards: cannot complete a card from status %q", fromStatus)
	}
	tx := storage.NewTransaction().Update(
		storage.ReportCardKey(cardID, startMonth),
		[]storage.Change{storage.Set("status", datatypes.ReportCardCompleted)},
		storage.ItemExists(),
		storage.FieldEquals("coach_id", coachID),
		storage.FieldEquals("status", string(fromStatus)))
	_, err := c.store.Transact(ctx, tx)
	return err
}

// RestoreFromCompleted reopens a completed card: back to draft when it has
// attendance recorded, back to no_show otherwise.
func (c *Cycle) RestoreFromCompleted(
	ctx context.Context,
	cardID string,
	startMonth datatypes.Month,
) error {
	key := storage.ReportCardKey(cardID, startMonth)
	rec, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("reportcards: card %s/%s does not exist", cardID, startMonth)
	}
	var card datatypes.ReportCard
	if err := rec.Decode(&card); err != nil {
		return err
	}

	restored := datatypes.ReportCardDraft
	if card.Attendance == "" {
		restored = datatypes.ReportCardNoShow
	}
	tx := storage.NewTransaction().Update(key,
		[]storage.Change{storage.Set("status", restored)},
		storage.ItemExists(),
		storage.FieldEquals("status", string(datatypes.ReportCardCompleted)))
	_, err = c.store.Transact(ctx, tx)
	return err
}
