package cmd

// SessionsCmd groups the session management subcommands
type SessionsCmd struct {
	Addr string `help:"Hub control API address" placeholder:"HOST:PORT"`

	Add      SessionsAddCmd      `cmd:"add" help:"Queue a new session"`
	List     SessionsListCmd     `cmd:"list" default:"1" help:"List sessions"`
	Del      SessionsDelCmd      `cmd:"del" help:"Delete a session"`
	Continue SessionsContinueCmd `cmd:"continue" help:"Requeue a finished session"`
	Kill     SessionsKillCmd     `cmd:"kill" help:"Kill an active session"`
	Input    SessionsInputCmd    `cmd:"input" help:"Send input to an active session"`
}
