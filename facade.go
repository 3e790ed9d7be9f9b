package dispatch

import (
	"fmt"

	"github.com/goliatone/go-dispatch/adapters/gocommand"
	dispatchcommand "github.com/goliatone/go-dispatch/command"
	dispatchquery "github.com/goliatone/go-dispatch/query"
)

// QueryStore is the read side exposed through the facade.
type QueryStore interface {
	dispatchquery.RunReader
	dispatchquery.DeadLetterReader
	dispatchquery.LineageReader
}

type Commands struct {
	Retry           *dispatchcommand.RetryCommand
	Replay          *dispatchcommand.ReplayCommand
	TriggerSchedule *dispatchcommand.TriggerScheduleCommand
}

type Queries struct {
	GetRun          *dispatchquery.GetRunQuery
	ListDeadLetters *dispatchquery.ListDeadLettersQuery
	ListLineage     *dispatchquery.ListLineageQuery
}

type Facade struct {
	commands Commands
	queries  Queries
}

func NewFacade(replay dispatchcommand.ReplayService, trigger dispatchcommand.ScheduleTrigger, store QueryStore) (*Facade, error) {
	if replay == nil {
		return nil, fmt.Errorf("dispatch: replay service is required")
	}
	if trigger == nil {
		return nil, fmt.Errorf("dispatch: schedule trigger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("dispatch: query store is required")
	}
	return &Facade{
		commands: Commands{
			Retry:           dispatchcommand.NewRetryCommand(replay),
			Replay:          dispatchcommand.NewReplayCommand(replay),
			TriggerSchedule: dispatchcommand.NewTriggerScheduleCommand(trigger),
		},
		queries: Queries{
			GetRun:          dispatchquery.NewGetRunQuery(store),
			ListDeadLetters: dispatchquery.NewListDeadLettersQuery(store),
			ListLineage:     dispatchquery.NewListLineageQuery(store),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// Operations flattens the facade for gocommand.Bus registration.
func (f *Facade) Operations() gocommand.Operations {
	if f == nil {
		return gocommand.Operations{}
	}
	return gocommand.Operations{
		Retry:           f.commands.Retry,
		Replay:          f.commands.Replay,
		TriggerSchedule: f.commands.TriggerSchedule,
		GetRun:          f.queries.GetRun,
		ListDeadLetters: f.queries.ListDeadLetters,
		ListLineage:     f.queries.ListLineage,
	}
}
