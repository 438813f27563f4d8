package cmd

// WorkersCmd groups the worker management subcommands
type WorkersCmd struct {
	Addr string `help:"Hub control API address" placeholder:"HOST:PORT"`

	Add  WorkersAddCmd  `cmd:"add" help:"Register a remote worker"`
	List WorkersListCmd `cmd:"list" default:"1" help:"List workers"`
	Del  WorkersDelCmd  `cmd:"del" help:"Remove a worker"`
	Test WorkersTestCmd `cmd:"test" help:"Test SSH connectivity without registering"`
}
