package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JasonZhangHub/reflectionlab/internal/agent"
	"github.com/JasonZhangHub/reflectionlab/internal/api"
	"github.com/JasonZhangHub/reflectionlab/internal/handler"
	appI18n "github.com/JasonZhangHub/reflectionlab/internal/i18n"
	"github.com/JasonZhangHub/reflectionlab/internal/model"
	"github.com/JasonZhangHub/reflectionlab/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reflectionlab",
		Short: "Participant front-end for the Reflection Lab personality study",
	}

	serve := serveCmd()
	root.AddCommand(serve, agentCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `reflectionlab --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the participant-facing web server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("api-base", "http://localhost:8000/api", "Base URL of the study REST API")
	f.String("db", "reflectionlab.db", "SQLite session database path")
	f.Int("page-size", 10, "Questions shown per survey page")
	f.StringP("lang", "l", "en", "UI language")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /study)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run an LLM persona through the survey",
		RunE:  runAgent,
	}
	f := cmd.Flags()
	f.String("api-base", "http://localhost:8000/api", "Base URL of the study REST API")
	f.String("persona", "", "Persona name used as the participant alias (required)")
	f.String("prompt", "", "Path to the persona prompt markdown file (required)")
	f.String("participant-id", "", "Participant ID for the agent account (required)")
	f.String("passcode", "", "Passcode for the agent account (required)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("output", "o", "-", "Output file for the scored response JSON (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("persona")
	_ = cmd.MarkFlagRequired("prompt")
	_ = cmd.MarkFlagRequired("participant-id")
	_ = cmd.MarkFlagRequired("passcode")

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

	v.SetEnvPrefix("REFLECTIONLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("reflectionlab")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/reflectionlab")
	v.AddConfigPath("/etc/reflectionlab")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open session database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired sessions", "error", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	study := api.New(v.GetString("api-base"))

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.AppConfig{
		APIBase:       v.GetString("api-base"),
		PageSize:      v.GetInt("page-size"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
	}

	h := handler.New(db, study, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"api_base", cfg.APIBase,
		"page_size", cfg.PageSize,
		"lang", lang,
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	prompt, err := agent.LoadPersonaPrompt(v.GetString("prompt"))
	if err != nil {
		return err
	}

	persona := v.GetString("persona")
	a := agent.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		persona,
		prompt,
		api.New(v.GetString("api-base")),
	)

	resp, err := a.Run(context.Background(), v.GetString("participant-id"), v.GetString("passcode"))
	if err != nil {
		return fmt.Errorf("run agent: %w", err)
	}

	out := struct {
		Persona  string                   `json:"persona"`
		Model    string                   `json:"model"`
		Response *model.SubmittedResponse `json:"response"`
	}{
		Persona:  persona,
		Model:    v.GetString("llm-model"),
		Response: resp,
	}

	data, err := json.MarshalIndent(out, "", "  ")
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
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
