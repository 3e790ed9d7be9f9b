package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dispatch/core"
)

var (
	_ gocmd.Querier[GetRunMessage, core.RunRecord]             = (*GetRunQuery)(nil)
	_ gocmd.Querier[ListDeadLettersMessage, []core.DeadLetter] = (*ListDeadLettersQuery)(nil)
	_ gocmd.Querier[ListLineageMessage, []core.LineageEdge]    = (*ListLineageQuery)(nil)
)
