package main

import (
	"github.com/turtacn/abuseguard/cmd/cli"
)

// main is the entry point for the abusectl operator tool.
func main() {
	cli.Execute()
}
