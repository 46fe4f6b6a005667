// Command streaming-runner is the CLI entrypoint for the charity
// evaluation ingestion pipeline, per spec.md §6.
package main

import (
	"os"

	"github.com/amalresearch/evalpipeline/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
