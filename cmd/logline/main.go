// Command logline is the CLI for the tamper-evident business event ledger.
package main

import (
	"context"
	"os"

	"github.com/roach88/logline/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
