package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RetryMessage]           = (*RetryCommand)(nil)
	_ gocmd.Commander[ReplayMessage]          = (*ReplayCommand)(nil)
	_ gocmd.Commander[TriggerScheduleMessage] = (*TriggerScheduleCommand)(nil)
)
