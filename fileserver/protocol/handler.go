package protocol

// CommandHandler serves the single command of a connection.
// Takes a SessionInterface for dependency injection
type CommandHandler struct {
	session SessionInterface
}

// NewCommandHandler creates a new command handler with session dependency injection
func NewCommandHandler(session SessionInterface) *CommandHandler {
	return &CommandHandler{session: session}
}
