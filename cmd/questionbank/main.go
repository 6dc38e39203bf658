package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/questionbank/internal/auth"
	"github.com/pavelanni/questionbank/internal/exam"
	"github.com/pavelanni/questionbank/internal/handler"
	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/llm"
	"github.com/pavelanni/questionbank/internal/metrics"
	"github.com/pavelanni/questionbank/internal/model"
	"github.com/pavelanni/questionbank/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "questionbank",
		Short: "Question bank and exam server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), statsCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addStoreFlags registers the flags every command needs to reach the database.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "", "Database path (sqlite) or connection URL (postgres)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("jwt-secret", "", "Secret for signing access tokens (or set QUESTIONBANK_JWT_SECRET)")
	f.Duration("token-ttl", 24*time.Hour, "Access token lifetime")
	f.StringP("lang", "l", "en", "Fallback language for API messages (en, zh)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.String("admin-password", "", "Initial admin password (or set QUESTIONBANK_ADMIN_PASSWORD)")
	f.Int("seed-students", 0, "Create this many demo student accounts when none exist")
	f.String("llm-url", "https://api.deepseek.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the assistant (empty disables it)")
	f.String("llm-model", "deepseek-chat", "Assistant model name")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import questions from JSON files",
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringSliceP("file", "f", nil, "Paths to questions JSON files (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print exam statistics as JSON",
		RunE:  runStats,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam id (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		RunE:  runUserAdd,
	}
	addStoreFlags(add)
	f := add.Flags()
	f.String("username", "", "Username (required)")
	f.String("password", "", "Password (required)")
	f.String("role", string(model.RoleStudent), "Role (Student, Admin)")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")
	cmd.AddCommand(add)
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

	v.SetEnvPrefix("QUESTIONBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("questionbank")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/questionbank")
	v.AddConfigPath("/etc/questionbank")
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

// openStore sets up logging and opens the database named by the command's flags.
func openStore(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(store.Driver(strings.ToLower(v.GetString("db-driver"))), v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := seedStudents(ctx, db, v.GetInt("seed-students")); err != nil {
		return fmt.Errorf("seed students: %w", err)
	}

	secret := v.GetString("jwt-secret")
	if secret == "" {
		return errors.New("jwt secret is required: set --jwt-secret flag or QUESTIONBANK_JWT_SECRET env var")
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if llmClient == nil {
		slog.Warn("assistant disabled: no LLM API key configured")
	}

	m := metrics.New()
	svc := exam.New(db, db, db, exam.WithRecorder(m))
	h := handler.New(db, svc, auth.NewIssuer(secret, v.GetDuration("token-ttl")), llmClient, handler.Config{
		Lang:           lang,
		AllowedOrigins: v.GetStringSlice("cors-origins"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	h.Routes(r)
	r.Handle("/metrics", m.Handler())

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", v.GetString("db-driver"),
			"lang", lang,
			"assistant", llmClient != nil,
			"model", v.GetString("llm-model"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	total := 0
	for _, path := range v.GetStringSlice("file") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := db.ImportQuestionFile(ctx, filepath.Clean(path), data)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		total += res.Imported
	}
	slog.Info("import finished", "imported", total)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := exam.New(db, db, db)
	stats, err := svc.Statistics(cmd.Context(), v.GetInt64("exam-id"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
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

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	role := model.Role(v.GetString("role"))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q: use Student or Admin", role)
	}
	id, err := createUser(cmd.Context(), db, v.GetString("username"), v.GetString("password"), role)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q with id %d\n", role, v.GetString("username"), id)
	return nil
}

func createUser(ctx context.Context, db *store.Store, username, password string, role model.Role) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	id, err := db.CreateUser(ctx, model.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	})
	if err != nil {
		return 0, fmt.Errorf("create user %s: %w", username, err)
	}
	return id, nil
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
		return errors.New("admin password is required: set --admin-password flag or QUESTIONBANK_ADMIN_PASSWORD env var")
	}
	if _, err := createUser(ctx, db, "admin", password, model.RoleAdmin); err != nil {
		return err
	}
	slog.Info("seeded default admin user", "username", "admin")
	return nil
}

const demoStudentPassword = "student123"

// seedStudents creates n demo accounts named student1..studentN when no student exists.
func seedStudents(ctx context.Context, db *store.Store, n int) error {
	if n <= 0 {
		return nil
	}
	students, err := db.ListUsers(ctx, model.RoleStudent)
	if err != nil {
		return err
	}
	if len(students) > 0 {
		return nil
	}
	for i := 1; i <= n; i++ {
		if _, err := createUser(ctx, db, fmt.Sprintf("student%d", i), demoStudentPassword, model.RoleStudent); err != nil {
			return err
		}
	}
	slog.Info("seeded demo students", "count", n)
	return nil
}
