// Command analyst-demo wires the full engine (C1-C10) against a single
// in-process request and prints the resulting event tape as SSE lines to
// stdout. It is a demo entrypoint only: HTTP routing, document upload and
// credential handling are an embedding collaborator's responsibility, not
// this engine's (see SPEC_FULL.md's Non-goals).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"analystengine/internal/config"
	"analystengine/internal/llm/providers"
	"analystengine/internal/observability"
	"analystengine/internal/orchestrator"
	"analystengine/internal/plancache"
	"analystengine/internal/session"
	"analystengine/internal/tape"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger("", cfg.LogLevel)

	ctx := context.Background()
	dispatcher, err := providers.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "providers: %v\n", err)
		os.Exit(1)
	}

	cache := plancache.New(plancache.DefaultMaxSize, plancache.DefaultTTL)
	engine := orchestrator.New(dispatcher, cache)

	settings := config.Settings{}.Resolve(cfg)

	document := "date|sales\n2023-01|100\n2023-02|200\n2023-03|150"
	history := []session.Message{}

	tp := tape.New(tape.MinCapacity)
	go engine.Run(ctx, "Summarize sales performance by month", document, history, settings, tp)

	deadline := time.NewTimer(2 * time.Minute)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-tp.Events():
			if !ok {
				fmt.Println("data: [DONE]")
				return
			}
			if err := tape.WriteSSE(os.Stdout, ev); err != nil {
				fmt.Fprintf(os.Stderr, "write: %v\n", err)
				return
			}
		case <-deadline.C:
			tp.Cancel()
			fmt.Fprintln(os.Stderr, "demo: timed out waiting for the engine")
			return
		}
	}
}
