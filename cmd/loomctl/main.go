package main

import (
	"github.com/loomforge/loomforge/cmd/loomctl/commands"
	_ "github.com/loomforge/loomforge/cmd/loomctl/commands/listruns"
	_ "github.com/loomforge/loomforge/cmd/loomctl/commands/run"
	_ "github.com/loomforge/loomforge/cmd/loomctl/commands/show"
)

func main() {
	commands.Execute()
}
