// Copyright (C) 2025 Smartalk (dev@smartalk.online)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import "github.com/smartalk-online/backoffice/services/backoffice/datatypes"

// Table names. Single-key tables leave SK empty.
const (
	TableContracts  = "contracts"
	TableSessions   = "sessions"
	TableReportCard = "report_cards"
	TableGenerators = "report_card_generators"
	TableDebriefs   = "debriefs"
)

// ContractKey addresses a contract by id.
func ContractKey(contractID string) Key {
	return Key{Table: TableContracts, PK: contractID}
}

// SessionKey addresses a session record by contract and composite session id.
func SessionKey(contractID, sessionID string) Key {
	return Key{Table: TableSessions, PK: contractID, SK: sessionID}
}

// SessionPartition queries all session records of one contract.
func SessionPartition(contractID string) Query {
	return Query{Table: TableSessions, PK: contractID}
}

// ReportCardKey addresses a report card by composite id and period start.
func ReportCardKey(reportCardID string, startMonth datatypes.Month) Key {
	return Key{Table: TableReportCard, PK: reportCardID, SK: string(startMonth)}
}

// ReportCardPartition queries all periods of one coach/generator pair.
func ReportCardPartition(reportCardID string) Query {
	return Query{Table: TableReportCard, PK: reportCardID}
}

// GeneratorKey addresses a report card generator by id.
func GeneratorKey(generatorID string) Key {
	return Key{Table: TableGenerators, PK: generatorID}
}

// DebriefKey addresses a debrief by composite id and date.
func DebriefKey(debriefID string, date datatypes.Date) Key {
	return Key{Table: TableDebriefs, PK: debriefID, SK: string(date)}
}
