//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/demokit/pkg/kernel/replay"
	"github.com/ormasoftchile/demokit/pkg/kernel/schema"
)

func main() {
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	write("schemas/runbook-v1.json", schema.GenerateRunbookJSONSchema)
	write("schemas/scenario-v1.json", replay.GenerateScenarioJSONSchema)
}

func write(path string, gen func() ([]byte, error)) {
	data, err := gen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote", path)
}
