package main

import (
	"caedrepo/cmd/caedrepo/commands"
	"caedrepo/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
