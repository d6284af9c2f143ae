package main

import "github.com/lemon07r/patchbench/internal/cli"

func main() {
	cli.Execute()
}
