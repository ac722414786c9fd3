package auth

// Known OAuth scopes used by the API.
const (
	ScopeActivitiesRead  = "activities:read"
	ScopeActivitiesWrite = "activities:write"
	ScopeLeaguesWrite    = "leagues:write"
)
