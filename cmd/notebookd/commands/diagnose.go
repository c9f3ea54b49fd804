package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/notebookd/notebookd/internal/config"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/server"
	"github.com/notebookd/notebookd/internal/store"
)

// diagnoseTimeout bounds each individual dependency probe.
const diagnoseTimeout = 10 * time.Second

// NewDiagnoseCmd constructs the `notebookd diagnose` command, which checks
// the service's dependencies from the command line: the Qdrant connection,
// the metadata store, and every notebook's declared providers.
func NewDiagnoseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check Qdrant, the metadata store, and every notebook's providers",
		Long: `Diagnose the notebookd installation without starting the server.

Probes the Qdrant vector store, opens the metadata directory, and runs a
zero-cost health check against each notebook's LLM and embedding backends.

Examples:
  notebookd diagnose
  QDRANT_HOST=qdrant.internal notebookd diagnose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.Discard()
			cfg := config.FromEnv()

			failures := 0

			// Qdrant.
			pingers, err := buildPingers(cfg)
			if err != nil {
				return fmt.Errorf("diagnose: %w", err)
			}
			for _, p := range pingers {
				failures += probe(ctx, p.Name(), p.Ping)
			}

			// Metadata store.
			dataDir := cfg.Data.Dir
			if dataDir == "" {
				dataDir, err = config.DefaultDataDir()
				if err != nil {
					return fmt.Errorf("diagnose: %w", err)
				}
			}
			st, err := store.Open(dataDir, log)
			if err != nil {
				fmt.Printf("FAIL  metadata store (%s): %v\n", dataDir, err)
				failures++
			} else {
				notebooks := st.ListNotebooks()
				fmt.Printf("ok    metadata store (%s): %d notebooks\n", dataDir, len(notebooks))

				// Per-notebook provider backends.
				for _, nb := range notebooks {
					failures += probeProvider(ctx, nb.Name+" llm", nb.LLMProvider)
					failures += probeProvider(ctx, nb.Name+" embedding", nb.EmbeddingProvider)
				}
			}

			if failures > 0 {
				fmt.Fprintf(os.Stderr, "\n%d check(s) failed\n", failures)
				return fmt.Errorf("diagnose: %d check(s) failed", failures)
			}
			fmt.Println("\nall checks passed")
			return nil
		},
	}
}

// probe runs one named check with a timeout and prints its result.
// Returns 1 on failure for tallying.
func probe(ctx context.Context, name string, fn func(context.Context) error) int {
	probeCtx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
	defer cancel()

	if err := fn(probeCtx); err != nil {
		fmt.Printf("FAIL  %s: %v\n", name, err)
		return 1
	}
	fmt.Printf("ok    %s\n", name)
	return 0
}

// probeProvider resolves and health-checks one declared provider backend.
func probeProvider(ctx context.Context, name string, raw provider.RawConfig) int {
	cfg, err := provider.Resolve(raw)
	if err != nil {
		fmt.Printf("FAIL  %s: %v\n", name, err)
		return 1
	}
	pinger := server.NewProviderPinger(cfg, name)
	return probe(ctx, name, pinger.Ping)
}
