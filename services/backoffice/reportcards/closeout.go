// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reportcards

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/smartalk-online/backoffice/services/backoffice/datatypes"
	"github.com/smartalk-online/backoffice/services/backoffice/storage"
)

// SentCard is one card the close-out marked sent.
type SentCard struct {
	ReportCardID    string          `json:"report_card_id"`
	StartMonth      datatypes.Month `json:"start_month"`
	EndMonth        datatypes.Month `json:"end_month"`
	CoachID         string          `json:"coach_id"`
	StudentID       string          `json:"student_id"`
	ClientID        string          `json:"client_id"`
	Report          string          `json:"report,omitempty"`
	Attendance      string          `json:"attendance,omitempty"`
	EmailRecipients string          `json:"report_card_email_recipients,omitempty"`
}

// CloseOutReport summarizes one close-out run. SentByClient groups the
// sent cards by billing client, the shape the mailing pipeline consumes.
type CloseOutReport struct {
	SentByClient      map[string][]SentCard `json:"sent_by_client"`
	GeneratorsRolled  int                   `json:"generators_rolled"`
	GeneratorsDeleted int                   `json:"generators_deleted"`
}

// CloseOut advances every generator whose completed cards have expired:
// marks the cards sent, rolls the window to the next live period, seeds a
// no_show placeholder for it, and deletes generators nothing references
// anymore.
type CloseOut struct {
	store     storage.Store
	headCoach string
	logger    *slog.Logger
	today     func() datatypes.Date
}

// NewCloseOut creates a close-out runner. today is injectable for tests;
// nil selects the current UTC date.
func NewCloseOut(store storage.Store, headCoach string, logger *slog.Logger, today func() datatypes.Date) *CloseOut {
	if headCoach == "" {
		headCoach = DefaultHeadCoach
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if today == nil {
		today = datatypes.Today
	}
	return &CloseOut{store: store, headCoach: headCoach, logger: logger, today: today}
}

// Run executes one close-out pass.
//
// It refuses to run while any expired period still has an unfinished
// no_show or draft card: advancing the generators past unfinished work
// would orphan those cards, so that state is a ConsistencyError.
func (c *CloseOut) Run(ctx context.Context) (*CloseOutReport, error) {
	today := c.today()

	if err := c.assertNoUnfinishedExpired(ctx, today); err != nil {
		return nil, err
	}

	expired, err := c.store.Scan(ctx, storage.TableReportCard,
		storage.FieldEquals("status", string(datatypes.ReportCardCompleted)),
		storage.FieldLessThan("end_month", string(today)))
	if err != nil {
		return nil, fmt.Errorf("find expired completed cards: %w", err)
	}

	byGenerator := map[string][]datatypes.ReportCard{}
	for _, rec := range expired {
		var card datatypes.ReportCard
		if err := rec.Decode(&card); err != nil {
			return nil, err
		}
		byGenerator[card.ReportCardGeneratorID] = append(byGenerator[card.ReportCardGeneratorID], card)
	}

	// Deterministic order keeps reruns and logs comparable.
	generatorIDs := make([]string, 0, len(byGenerator))
	for id := range byGenerator {
		generatorIDs = append(generatorIDs, id)
	}
	sort.Strings(generatorIDs)

	report := &CloseOutReport{SentByClient: map[string][]SentCard{}}
	for _, generatorID := range generatorIDs {
		cards := byGenerator[generatorID]
		if err := c.closeOutGenerator(ctx, generatorID, cards, today, report); err != nil {
			return nil, fmt.Errorf("close out generator %s: %w", generatorID, err)
		}
		for _, card := range cards {
			report.SentByClient[card.ClientID] = append(report.SentByClient[card.ClientID], SentCard{
				ReportCardID:    card.ReportCardID,
				StartMonth:      card.StartMonth,
				EndMonth:        card.EndMonth,
				CoachID:         card.CoachID,
				StudentID:       card.StudentID,
				ClientID:        card.ClientID,
				Report:          card.Report,
				Attendance:      card.Attendance,
				EmailRecipients: card.EmailRecipients,
			})
		}
	}

	c.logger.InfoContext(ctx, "close-out finished",
		slog.Int("cards_sent", len(expired)),
		slog.Int("generators_rolled", report.GeneratorsRolled),
		slog.Int("generators_deleted", report.GeneratorsDeleted))
	return report, nil
}

// assertNoUnfinishedExpired fails the run when an expired period still has
// no_show or draft cards.
func (c *CloseOut) assertNoUnfinishedExpired(ctx context.Context, today datatypes.Date) error {
	for _, status := range []datatypes.ReportCardStatus{datatypes.ReportCardNoShow, datatypes.ReportCardDraft} {
		recs, err := c.store.Scan(ctx, storage.TableReportCard,
			storage.FieldEquals("status", string(status)),
			storage.FieldLessThan("end_month", string(today)))
		if err != nil {
			return fmt.Errorf("find expired %s cards: %w", status, err)
		}
		if len(recs) > 0 {
			return &ConsistencyError{Op: "close out",
				Detail: fmt.Sprintf("%d expired %s cards are still unfinished", len(recs), status)}
		}
	}
	return nil
}

// closeOutGenerator commits one atomic batch for one generator: all its
// expired completed cards marked sent, plus the window advancement or the
// generator deletion.
func (c *CloseOut) closeOutGenerator(
	ctx context.Context,
	generatorID string,
	cards []datatypes.ReportCard,
	today datatypes.Date,
	report *CloseOutReport,
) error {
	tx := storage.NewTransaction()
	for _, card := range cards {
		tx.Update(storage.ReportCardKey(card.ReportCardID, card.StartMonth),
			[]storage.Change{storage.Set("status", datatypes.ReportCardSent)},
			storage.ItemExists(),
			storage.FieldEquals("status", string(datatypes.ReportCardCompleted)),
			storage.FieldEquals("report_card_generator_id", generatorID))
	}

	minStart, err := c.minLiveStartMonth(ctx, generatorID, today)
	if err != nil {
		return err
	}

	if minStart == "" {
		// Nothing references the generator anymore; retire it.
		tx.Delete(storage.GeneratorKey(generatorID), storage.ItemExists())
		if _, err := c.store.Transact(ctx, tx); err != nil {
			return err
		}
		report.GeneratorsDeleted++
		return nil
	}

	rec, err := c.store.Get(ctx, storage.GeneratorKey(generatorID))
	if err != nil {
		return err
	}
	if rec == nil {
		return &ConsistencyError{Op: "close out",
			Detail: fmt.Sprintf("generator %s has live references but does not exist", generatorID)}
	}
	var gen datatypes.ReportCardGenerator
	if err := rec.Decode(&gen); err != nil {
		return err
	}

	// Jump to the earliest future period when one exists; otherwise step
	// one cadence forward.
	if string(minStart) > string(today) {
		gen.CurrentStartMonth = minStart
	} else {
		gen.CurrentStartMonth = gen.NextStartMonth
	}
	gen.NextStartMonth = gen.CurrentStartMonth.AddMonths(gen.Cadency)

	tx.Update(storage.GeneratorKey(generatorID),
		[]storage.Change{
			storage.Set("current_start_month", gen.CurrentStartMonth),
			storage.Set("next_start_month", gen.NextStartMonth),
		},
		storage.ItemExists())

	covered, err := c.store.Scan(ctx, storage.TableReportCard,
		storage.FieldEquals("report_card_generator_id", generatorID),
		storage.FieldEquals("start_month", string(gen.CurrentStartMonth)))
	if err != nil {
		return fmt.Errorf("find cards for new period: %w", err)
	}
	if len(covered) == 0 {
		cycle := Cycle{store: c.store, headCoach: c.headCoach, logger: c.logger}
		if err := cycle.seedPlaceholder(tx, gen, gen.CurrentStartMonth); err != nil {
			return err
		}
	}

	if _, err := c.store.Transact(ctx, tx); err != nil {
		return err
	}
	report.GeneratorsRolled++
	return nil
}

// minLiveStartMonth returns the earliest report card start month still
// referenced by an active contract or a future draft card of the
// generator, or "" when there are none.
func (c *CloseOut) minLiveStartMonth(
	ctx context.Context,
	generatorID string,
	today datatypes.Date,
) (datatypes.Month, error) {
	var months []datatypes.Month

	contracts, err := c.store.Scan(ctx, storage.TableContracts,
		storage.FieldEquals("report_card_generator_id", generatorID),
		storage.FieldEquals("status", string(datatypes.ContractActive)))
	if err != nil {
		return "", fmt.Errorf("find active contracts: %w", err)
	}
	for _, rec := range contracts {
		var contract datatypes.Contract
		if err := rec.Decode(&contract); err != nil {
			return "", err
		}
		months = append(months, contract.ReportCardStartMonth)
	}

	// Draft cards should never sit in the future here, but a concurrent
	// backfill can put one there; it still pins the generator.
	drafts, err := c.store.Scan(ctx, storage.TableReportCard,
		storage.FieldEquals("report_card_generator_id", generatorID),
		storage.FieldEquals("status", string(datatypes.ReportCardDraft)),
		storage.FieldGreaterThan("start_month", string(today)))
	if err != nil {
		return "", fmt.Errorf("find draft cards: %w", err)
	}
	for _, rec := range drafts {
		var card datatypes.ReportCard
		if err := rec.Decode(&card); err != nil {
			return "", err
		}
		months = append(months, card.StartMonth)
	}

	if len(months) == 0 {
		return "", nil
	}
	min := months[0]
	for _, m := range months[1:] {
		if m < min {
			min = m
		}
	}
	return min, nil
}
