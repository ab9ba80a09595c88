package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/panelflow/panelflow/pkg/cache"
	"github.com/panelflow/panelflow/pkg/commands"
	"github.com/panelflow/panelflow/pkg/config"
	"github.com/panelflow/panelflow/pkg/rbac"
	"github.com/panelflow/panelflow/pkg/registry"
	"github.com/panelflow/panelflow/pkg/schema"
	"github.com/panelflow/panelflow/pkg/serve"
	"github.com/panelflow/panelflow/pkg/stream"
	"github.com/panelflow/panelflow/pkg/trace"
)

var serveStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the panel document server",
	Long:  "Serve the document library over websocket (default) or NDJSON on stdio. Shutdown is graceful: in-flight streams finish their current chunk and send an abort notice.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		library := schema.NewLibrary(cfg.DocsDir)
		if errs := library.LoadAll(); len(errs) > 0 {
			for _, e := range errs {
				logger.Warn("document skipped", "err", e)
			}
		}
		if len(library.List()) == 0 {
			logger.Warn("document library is empty", "dir", cfg.DocsDir)
		}

		policy, err := rbac.LoadPolicy(cfg.Policy.File)
		if err != nil {
			return err
		}
		checker := rbac.NewChecker(policy)
		redactor, err := rbac.NewRedactor(policy.Redact)
		if err != nil {
			return fmt.Errorf("redaction rules: %w", err)
		}

		var results cache.Cache
		switch cfg.Cache.Backend {
		case "redis":
			ctx := cmd.Context()
			r, rerr := cache.NewRedis(ctx, cfg.Cache.RedisURL)
			if rerr != nil {
				return fmt.Errorf("redis cache: %w", rerr)
			}
			r.SetDefaultTTL(cfg.Cache.TTL)
			results = r
			logger.Info("result cache", "backend", "redis")
		case "memory", "":
			mem := cache.NewMemory()
			mem.SetDefaultTTL(cfg.Cache.TTL)
			results = mem
			logger.Info("result cache", "backend", "memory")
		default:
			return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
		}

		var tracer *trace.Writer
		if cfg.Trace.Path != "" {
			tracer, err = trace.NewFileWriter(cfg.Trace.Path)
			if err != nil {
				return err
			}
			defer tracer.Close()
		}

		store := demoStore()
		reg := registry.New()
		gates := stream.NewGateResolver(store, logger)
		streamer := stream.NewStreamer(gates, reg, tracer, logger)
		hub := serve.NewHub()

		router := serve.NewRouter(serve.RouterDeps{
			Library:  library,
			Registry: reg,
			Streamer: streamer,
			Runner:   store,
			Store:    store,
			Cache:    results,
			Checker:  checker,
			Redact:   redactor,
			Hub:      hub,
			Tracer:   tracer,
			Log:      logger,
		})
		srv := serve.NewServer(router, hub, tracer, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveStdio {
			logger.Info("serving on stdio")
			return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
		}
		return srv.ListenAndServe(ctx, cfg.Listen)
	},
}

// demoStore seeds the built-in backend with the models the bundled
// documents reference.
func demoStore() *commands.Store {
	s := commands.NewStore()
	s.Register(&commands.ModelDef{
		Name: "Ticket",
		Fields: []commands.FieldDef{
			{Name: "title", Type: "text", Required: true},
			{Name: "severity", Type: "choice"},
			{Name: "assignee", Type: "text"},
		},
	})
	s.Register(&commands.ModelDef{
		Name: "User",
		Fields: []commands.FieldDef{
			{Name: "name", Type: "text", Required: true},
			{Name: "role", Type: "text"},
		},
	})
	return s
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve NDJSON on stdin/stdout instead of websocket")
	rootCmd.AddCommand(serveCmd)
}
