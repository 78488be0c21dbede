package main

import "ragqa/internal/commands"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)
	commands.Execute()
}
