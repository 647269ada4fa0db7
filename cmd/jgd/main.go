package main

import "github.com/grantmcdermott/jgd/cmd/jgd/commands"

func main() {
	commands.Execute()
}
