package sqlstore

import "github.com/goliatone/go-dispatch/core"

var (
	_ core.IdempotencyStore = (*IdempotencyStore)(nil)
	_ core.RunStore         = (*RunStore)(nil)
	_ core.DeadLetterStore  = (*DeadLetterStore)(nil)
	_ core.LineageStore     = (*LineageStore)(nil)
	_ core.Store            = (*Store)(nil)
)
