package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examgrade/internal/exam"
	"github.com/pavelanni/examgrade/internal/handler"
	appI18n "github.com/pavelanni/examgrade/internal/i18n"
	"github.com/pavelanni/examgrade/internal/llm"
	"github.com/pavelanni/examgrade/internal/llm/prompts"
	"github.com/pavelanni/examgrade/internal/model"
	"github.com/pavelanni/examgrade/internal/report"
	"github.com/pavelanni/examgrade/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examgrade",
		Short: "Examination attempt submission and grading server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), auditCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "examgrade.db", "SQLite database path or Postgres DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("jwt-secret", "", "HMAC secret for access tokens (or set EXAMGRADE_JWT_SECRET)")
	f.Duration("token-ttl", 8*time.Hour, "Access token lifetime")
	f.String("admin-password", "", "Initial admin password (or set EXAMGRADE_ADMIN_PASSWORD)")
	f.StringP("lang", "l", "en", "Default language for messages (en, ru)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.StringSliceP("examinations", "e", nil, "Examination JSON files to import at startup (repeatable)")
	f.Float64("default-passing-percentage", 50, "Passing percentage for examinations without a threshold")
	f.String("llm-url", "", "OpenAI-compatible API base URL; empty disables score suggestions")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Suggestion prompt variant (strict, standard, lenient)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import examinations from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the results of an examination",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addCommonFlags(f)
	f.String("examination", "", "Examination ID (required)")
	f.String("format", string(report.FormatJSON), "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("examination")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List auto-gradable questions whose correct answer cannot be determined",
		RunE:  runAudit,
	}
	addCommonFlags(cmd.Flags())
	cmd.Flags().Bool("fail-on-findings", false, "Exit with an error when any question is reported")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgrade")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgrade")
	v.AddConfigPath("/etc/examgrade")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// setup binds configuration, configures logging and opens the store.
func setup(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	driver, err := store.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return nil, nil, err
	}
	db, err := store.New(driver, v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// A nil interface keeps suggestions disabled; a typed nil would not.
	var suggester exam.Suggester
	if url := v.GetString("llm-url"); url != "" {
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		client, err := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), prompts.PromptVariant(variant))
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		suggester = client
		slog.Info("score suggestions enabled", "url", url, "model", v.GetString("llm-model"), "variant", variant)
	}

	svc := exam.NewService(db, suggester, exam.Config{
		DefaultPassingPercentage: v.GetFloat64("default-passing-percentage"),
	})

	if err := importExaminations(ctx, db, svc, v.GetStringSlice("examinations")); err != nil {
		return fmt.Errorf("import examinations: %w", err)
	}

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return errors.New("jwt secret is required: set --jwt-secret flag or EXAMGRADE_JWT_SECRET env var")
	}
	h, err := handler.New(svc, db, handler.Config{
		JWTSecret: secret,
		TokenTTL:  v.GetDuration("token-ttl"),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", db.Driver(),
			"lang", lang,
			"suggestions", suggester != nil,
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, args []string) error {
	_, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := exam.NewService(db, nil, exam.Config{})
	return importExaminations(cmd.Context(), db, svc, args)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	format, err := report.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}
	id := v.GetString("examination")
	export, err := db.ExportExamination(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("export examination: %w", err)
	}
	if export == nil {
		return fmt.Errorf("examination %q not found", id)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := report.Write(w, format, export); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported results", "examination_id", id, "attempts", len(export.Results), "format", format)
	return nil
}

func runAudit(cmd *cobra.Command, _ []string) error {
	v, db, err := setup(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	questions, err := db.AllQuestions(cmd.Context())
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	findings := report.Audit(questions)
	if err := report.RenderAudit(cmd.OutOrStdout(), findings); err != nil {
		return err
	}
	if len(findings) > 0 && v.GetBool("fail-on-findings") {
		return fmt.Errorf("%d question(s) have no determinable correct answer", len(findings))
	}
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return errors.New("admin password is required: set --admin-password flag or EXAMGRADE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
