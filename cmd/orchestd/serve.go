package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"orchestd/internal/engine"
	"orchestd/internal/httpapi"
	"orchestd/internal/telemetry"
)

type serveFlags struct {
	addr         string
	modelsDir    string
	budgetMB     int
	marginMB     int
	defaultModel string
	corsOrigins  string
	maxBodyBytes int64
	inferTimeout time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Example: "  orchestd serve --addr :8080 --models-dir ~/models\n" +
			"  ORCHESTD_BUDGET_MB=3072 orchestd serve -c /etc/orchestd.yaml",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, false); err != nil {
				return err
			}
			applyServeFlags(cmd, a, f)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), a, f.maxBodyBytes)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", "", "HTTP listen address, e.g. :8080")
	fl.StringVar(&f.modelsDir, "models-dir", "", "Directory holding model files")
	fl.IntVar(&f.budgetMB, "budget-mb", 0, "RAM budget in MB for all loaded models (0=device memory only)")
	fl.IntVar(&f.marginMB, "margin-mb", 0, "RAM in MB to keep free")
	fl.StringVar(&f.defaultModel, "default-model", "", "Default llama model id when a request names none")
	fl.StringVar(&f.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	fl.Int64Var(&f.maxBodyBytes, "max-body-bytes", 32<<20, "Maximum request body size")
	fl.DurationVar(&f.inferTimeout, "infer-timeout", 0, "Per-request inference timeout (0 disables)")
	return cmd
}

// applyServeFlags overrides config values with explicitly set flags.
func applyServeFlags(cmd *cobra.Command, a *app, f serveFlags) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		a.cfg.Addr = f.addr
	}
	if fl.Changed("models-dir") {
		a.cfg.ModelsDir = f.modelsDir
	}
	if fl.Changed("budget-mb") {
		a.cfg.BudgetMB = f.budgetMB
	}
	if fl.Changed("margin-mb") {
		a.cfg.MarginMB = f.marginMB
	}
	if fl.Changed("default-model") {
		a.cfg.Llama.DefaultModel = f.defaultModel
	}
	if fl.Changed("cors-origins") {
		a.cfg.CORSOrigins = splitCSV(f.corsOrigins)
	}
	if fl.Changed("infer-timeout") {
		a.cfg.InferTimeout.Duration = f.inferTimeout
	}
}

func serve(ctx context.Context, a *app, maxBody int64) error {
	cfg, log := a.cfg, a.log

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing_shutdown")
		}
	}()

	eng, err := engine.New(cfg, log)
	if err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(maxBody)
	httpapi.SetInferTimeout(cfg.InferTimeout.Duration)
	httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

	// Cancelled on shutdown so in-flight inference unwinds.
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(eng),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Str("version", version).Msg("orchestd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_requested")
	case err = <-errCh:
	}

	// Let in-flight requests finish, cancel the rest, then drain runners.
	sctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout.Duration+5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		log.Warn().Err(serr).Msg("graceful shutdown error")
	}
	cancelBase()
	if cerr := eng.Close(sctx); cerr != nil {
		log.Warn().Err(cerr).Msg("engine_close")
	}
	return err
}
