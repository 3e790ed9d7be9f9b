package manifest

import "encoding/json"

var legacyRoutes = []Route{
	{RoutePath: "webhook_echo", RequestType: RequestTypeAsync, FlowPath: "flows/webhook_echo", WrapBody: false},
	{RoutePath: "webhook_echo_sync", RequestType: RequestTypeSync, FlowPath: "flows/webhook_echo", WrapBody: true},
	{RoutePath: "passthrough_demo", RequestType: RequestTypeSync, FlowPath: "flows/passthrough_demo", WrapBody: false},
	{RoutePath: "slack_notify", RequestType: RequestTypeAsync, FlowPath: "flows/slack_notify", WrapBody: false},
	{RoutePath: "github_issue", RequestType: RequestTypeAsync, FlowPath: "flows/github_issue", WrapBody: false},
	{RoutePath: "openai_summarize", RequestType: RequestTypeAsync, FlowPath: "flows/openai_summarize", WrapBody: false},
}

var legacySchedules = []Schedule{
	{ID: "heartbeat", Cron: "*/5 * * * *", Enabled: true, Target: "flows/heartbeat", TimeZone: "UTC"},
	{ID: "nightly_digest", Cron: "0 2 * * *", Enabled: true, Target: "flows/nightly_digest", TimeZone: "UTC"},
	{ID: "weekly_cleanup", Cron: "0 4 * * 0", Enabled: false, Target: "flows/weekly_cleanup", TimeZone: "UTC"},
}

// Legacy returns a copy of the compiled-in manifest.
func Legacy() Manifest {
	return Manifest{
		Mode:      "legacy",
		Routes:    append([]Route(nil), legacyRoutes...),
		Schedules: append([]Schedule(nil), legacySchedules...),
	}
}

// LegacyRoutesJSON renders the built-in routes in the config-mode input shape.
func LegacyRoutesJSON() (string, error) {
	data, err := json.Marshal(legacyRoutes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func LegacySchedulesJSON() (string, error) {
	data, err := json.Marshal(legacySchedules)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
