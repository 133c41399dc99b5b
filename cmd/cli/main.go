package main

import "github.com/segmat/segmat/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
