package main

import (
	"context"
	"fmt"
	"os"

	"github.com/surrealdb/surrealmirror/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "surrealmirror: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
