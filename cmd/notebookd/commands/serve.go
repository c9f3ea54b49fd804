package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/notebookd/notebookd/internal/audit"
	"github.com/notebookd/notebookd/internal/config"
	"github.com/notebookd/notebookd/internal/ingest"
	"github.com/notebookd/notebookd/internal/logging"
	"github.com/notebookd/notebookd/internal/provider"
	"github.com/notebookd/notebookd/internal/query"
	"github.com/notebookd/notebookd/internal/rag"
	"github.com/notebookd/notebookd/internal/server"
	"github.com/notebookd/notebookd/internal/store"
	"github.com/notebookd/notebookd/internal/summary"
	"github.com/notebookd/notebookd/internal/tracing"
)

// NewServeCmd constructs the `notebookd serve` command, which starts the
// notebook HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notebookd HTTP server",
		Long: `Start the notebookd HTTP server on localhost.

The server exposes a REST API for notebook management, document ingestion,
question answering, chat, and summaries. Vectors live in Qdrant; metadata
lives in JSON files under the data directory.

Examples:
  notebookd serve
  notebookd serve --port 9090
  QDRANT_HOST=qdrant.internal notebookd serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			cfg := config.FromEnv()
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			dataDir := cfg.Data.Dir
			if dataDir == "" {
				var err error
				dataDir, err = config.DefaultDataDir()
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("serve: failed to create data dir %s: %w", dataDir, err)
			}

			st, err := store.Open(dataDir, log)
			if err != nil {
				return fmt.Errorf("serve: failed to open metadata store: %w", err)
			}
			content := store.NewContentCache(dataDir, log)
			log.Info("metadata store opened",
				slog.String("dir", dataDir),
				slog.Int("notebooks", len(st.ListNotebooks())),
			)

			auditLog, err := openAuditLog(cfg.Audit.DBPath, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = auditLog.Close() }()

			tuning := provider.ChatTuning{
				MaxTokens:   cfg.Model.MaxTokens,
				Temperature: cfg.Model.Temperature,
			}

			engines := rag.NewRegistry(engineFactory(st, cfg, tuning, log), log)
			defer engines.Close()

			pipeline := ingest.New(st, content, engines, auditLog, log)
			defer pipeline.Shutdown()

			orchestrator := query.New(st, engines, overrideFactory(st, cfg, tuning, log), log)
			summaries := summary.New(st, orchestrator, log)

			pingers, err := buildPingers(cfg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(server.Deps{
				Store:        st,
				Content:      content,
				Pipeline:     pipeline,
				Orchestrator: orchestrator,
				Summaries:    summaries,
				Engines:      engines,
				Audit:        auditLog,
			}, &server.Config{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      cfg.Server.RateLimit,
				RateBurst:      cfg.Server.RateBurst,
				MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			// Requeue documents stranded mid-ingestion by a previous crash.
			requeueInterrupted(st, pipeline, log)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}

// openAuditLog opens the SQLite document-event log per the configured path.
// "disabled" turns it off; empty means the default location.
func openAuditLog(path string, log *slog.Logger) (audit.Log, error) {
	if path == "disabled" {
		log.Info("audit log disabled via NOTEBOOKD_AUDIT_DB=disabled")
		return audit.Nop{}, nil
	}
	if path == "" {
		var err error
		path, err = audit.DefaultDBPath()
		if err != nil {
			log.Warn("audit: could not resolve default DB path, disabling", slog.Any("error", err))
			return audit.Nop{}, nil
		}
	}
	l, err := audit.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	log.Info("audit log opened", slog.String("path", path))
	return l, nil
}

// requeueInterrupted re-enqueues documents that were processing when the
// previous run stopped, so a restart does not strand them.
func requeueInterrupted(st *store.Store, pipeline *ingest.Pipeline, log *slog.Logger) {
	for _, nb := range st.ListNotebooks() {
		i := 0
		for _, doc := range st.DocumentsByNotebook(nb.ID) {
			if doc.Status != store.StatusProcessing {
				continue
			}
			pipeline.Enqueue(nb.ID, doc.ID, i)
			i++
		}
		if i > 0 {
			log.Info("requeued interrupted documents",
				slog.String("notebook_id", nb.ID), slog.Int("count", i))
		}
	}
}
