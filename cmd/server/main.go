package main

import (
	"github.com/starlane-games/starlane-server/internal/cli"
)

func main() {
	cli.Execute()
}
