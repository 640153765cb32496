package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ajay-kaushal/examaii-main/internal/appstate"
	"github.com/ajay-kaushal/examaii-main/internal/auth"
	"github.com/ajay-kaushal/examaii-main/internal/export"
	"github.com/ajay-kaushal/examaii-main/internal/handler"
	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/llm"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examaii",
		Short: "Exam creation and AI grading server",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), purgeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examaii --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func dbFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", "sqlite", "Storage backend (sqlite, mongo)")
	f.String("db-path", "examaii.db", "SQLite database path")
	f.String("db-uri", "mongodb://localhost:27017/examaii", "MongoDB connection URI")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	dbFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("llm-url", "https://generativelanguage.googleapis.com/v1beta/openai/", "OpenAI-compatible API base URL")
	f.String("llm-model", llm.DefaultModel, "LLM model name")
	f.String("jwt-secret", "", "Secret for signing session tokens (or set EXAMAII_JWT_SECRET)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("google-client-id", "", "Google OAuth client ID (empty disables Google sign-in)")
	f.String("google-client-secret", "", "Google OAuth client secret")
	f.String("google-redirect-uri", "", "Google OAuth redirect URI")
	f.String("google-allowed-domain", "", "Restrict Google sign-in to this email domain")
	f.String("public-url", "", "Public URL to redirect to after Google sign-in")
	f.StringP("lang", "l", "en", "Default language (en, hi)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an exam's results as an xlsx workbook",
		RunE:  runExport,
	}
	dbFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Exam identifier to export (required)")
	f.StringP("output", "o", "", "Output file path (defaults to <topic>_results.xlsx)")

	_ = cmd.MarkFlagRequired("exam-id")

	return cmd
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Irreversibly delete stored data",
		RunE:  runPurge,
	}
	dbFlags(cmd)
	f := cmd.Flags()
	f.String("target", "", "What to delete (submissions, exams, all) (required)")
	f.String("confirm", "", "Confirmation phrase, e.g. DELETE ALL (required)")

	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("confirm")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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

	v.SetEnvPrefix("EXAMAII")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examaii")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examaii")
	v.AddConfigPath("/etc/examaii")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore picks the DSN matching the configured driver.
func openStore(ctx context.Context, v *viper.Viper) (store.Store, error) {
	driver := v.GetString("db-driver")
	dsn := v.GetString("db-path")
	if driver == "mongo" {
		dsn = v.GetString("db-uri")
	}
	return store.Open(ctx, driver, dsn)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return fmt.Errorf("session secret is required: set --jwt-secret flag or EXAMAII_JWT_SECRET env var")
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	state, err := appstate.New(ctx, db)
	if err != nil {
		return fmt.Errorf("load application state: %w", err)
	}
	defer state.Close()

	google := auth.GoogleConfig{
		ClientID:      v.GetString("google-client-id"),
		ClientSecret:  v.GetString("google-client-secret"),
		RedirectURI:   v.GetString("google-redirect-uri"),
		AllowedDomain: v.GetString("google-allowed-domain"),
		PublicURL:     v.GetString("public-url"),
	}
	authSvc := auth.NewService(db, secret, google, v.GetBool("secure-cookies"))

	grader := llm.New(v.GetString("llm-url"), v.GetString("llm-model"))

	h := handler.New(state, db, authSvc, grader)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"google_signin", google.Enabled(),
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	examID := v.GetString("exam-id")
	exam, err := db.GetExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("load exam: %w", err)
	}
	if exam == nil {
		return fmt.Errorf("exam %s not found", examID)
	}

	subs, err := db.ListSubmissionsByExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("load submissions: %w", err)
	}

	outPath := v.GetString("output")
	if outPath == "" {
		outPath = export.Filename(exam.Topic)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := export.Write(f, *exam, subs); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	slog.Info("exported results", "exam_id", examID, "submissions", len(subs), "path", outPath)
	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	target := handler.PurgeTarget(v.GetString("target"))
	count, err := handler.Purge(ctx, db, target, v.GetString("confirm"))
	if err != nil {
		return err
	}

	slog.Info("purge complete", "target", target, "deleted", count)
	return nil
}
