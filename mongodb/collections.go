package mongodb

const (
	SessionsCollection = "oauth_sessions" // Authentication sessions
)
