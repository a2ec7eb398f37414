package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/tachyon-beep/elspeth/internal/config"
)

func cmdExplain(ctx context.Context, cfg *config.RuntimeConfig, args []string) int {
	if len(args) != 2 {
		fmt.Println("usage: elspeth explain <run_id> <row_id>")
		return exitUsage
	}
	runID, rowID := args[0], args[1]

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		log.Printf("elspeth: %v", err)
		return exitFailure
	}
	defer rt.close(ctx)

	lineage, err := rt.recorder.ExplainRow(ctx, runID, rowID)
	if err != nil {
		log.Printf("elspeth: explain %s/%s: %v", runID, rowID, err)
		return exitFailure
	}

	out, err := json.MarshalIndent(lineage, "", "  ")
	if err != nil {
		log.Printf("elspeth: encode lineage: %v", err)
		return exitFailure
	}
	fmt.Println(string(out))
	return exitSuccess
}
