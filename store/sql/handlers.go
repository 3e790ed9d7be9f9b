package sqlstore

import (
	"strconv"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func deadLetterHandlers() repository.ModelHandlers[*deadLetterRecord] {
	return repository.ModelHandlers[*deadLetterRecord]{
		NewRecord: func() *deadLetterRecord {
			return &deadLetterRecord{}
		},
		// dead letters use an autoincrement key; the uuid hooks are inert.
		GetID: func(*deadLetterRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(*deadLetterRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *deadLetterRecord) string {
			if record == nil {
				return ""
			}
			return strconv.FormatInt(record.ID, 10)
		},
	}
}

func lineageHandlers() repository.ModelHandlers[*lineageRecord] {
	return repository.ModelHandlers[*lineageRecord]{
		NewRecord: func() *lineageRecord {
			return &lineageRecord{}
		},
		GetID: func(record *lineageRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *lineageRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *lineageRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func runHandlers() repository.ModelHandlers[*runRecord] {
	return repository.ModelHandlers[*runRecord]{
		NewRecord: func() *runRecord {
			return &runRecord{}
		},
		GetID: func(*runRecord) uuid.UUID {
			return uuid.Nil
		},
		SetID: func(*runRecord, uuid.UUID) {},
		GetIdentifier: func() string {
			return "trace_id"
		},
		GetIdentifierValue: func(record *runRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.TraceID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
