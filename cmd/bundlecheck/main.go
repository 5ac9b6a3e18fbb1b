package main

import (
	"github.com/replicatedhq/bundlecheck/cmd/bundlecheck/cli"
)

func main() {
	cli.InitAndExecute()
}
