/*
Package main is the entry point for the dialin CLI.

dialin is an espresso dial-in assistant: it proposes the next grind, dose,
and target time for a bean from the trials brewed so far, and predicts the
quality of a logged shot.

Usage:
  dialin [command]

Available Commands:
  serve       Run the MCP server (stdio transport)
  next        Record the last shot and get the next trial to brew
  report      Report the score of a pending trial
  history     List the trials of a dial-in session
  best        Show the best parameters found so far
  status      Summarize a dial-in session
  predict     Predict the quality of a shot
  shots       List archived shots of a bean
  benchmark   Simulate a dial-in session against a synthetic bean
  config      Manage the configuration file
  version     Show version information

Examples:
  # First trial for a new bag
  dialin next --bean ethiopia-guji

  # Run as MCP server
  dialin serve
*/
package main

import (
	"fmt"
	"os"

	"github.com/khanglvm/espresso-dialin/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
