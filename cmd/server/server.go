package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"datachat-agent/internal/ingest"
	"datachat-agent/internal/llm"
	"datachat-agent/internal/rag"
	"datachat-agent/internal/utils"
	"datachat-agent/pkg/agent"
	"datachat-agent/pkg/logger"
)

// ServerCmd represents the server command
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the chat API server",
	Long: `Start the chat API server that provides HTTP endpoints and Server-Sent Events (SSE)
support for real-time agent streaming.

The server provides:
- POST /api/chat for single-response conversations
- POST /api/chat/stream for token-level SSE streaming
- File uploads (CSV, PDF, SPSS, R data) folded into the conversation
- Gemini models via the Google AI API, everything else via OpenRouter

Examples:
  datachat server                       # Start server with default settings
  datachat server --port 8000           # Start on custom port
  datachat server --cors-origins "*"    # Enable CORS for all origins`,
	Run: runServer,
}

// ServerConfig holds the resolved server flags.
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	CORSOrigins   []string      `json:"cors_origins"`
	MaxTurns      int           `json:"max_turns"`
	StreamTimeout time.Duration `json:"stream_timeout"`
}

// chatSession is the slice of the agent the handlers need. The factory
// indirection keeps handler tests off the provider APIs.
type chatSession interface {
	Invoke(ctx context.Context, messages []agent.Message, hooks agent.Hooks) (any, error)
}

type sessionFactory func(ctx context.Context, cfg agent.Config) (chatSession, error)

// StreamingAPI is the HTTP server state shared across requests.
type StreamingAPI struct {
	config     ServerConfig
	index      rag.Searcher
	ingestor   *ingest.Ingestor
	logger     utils.ExtendedLogger
	newSession sessionFactory
}

func init() {
	ServerCmd.Flags().IntP("port", "p", 8000, "Server port")
	ServerCmd.Flags().StringP("host", "H", "0.0.0.0", "Server host")
	ServerCmd.Flags().StringSlice("cors-origins", []string{"*"}, "CORS allowed origins")
	ServerCmd.Flags().Int("max-turns", agent.DefaultMaxTurns, "Maximum tool-calling turns per request")
	ServerCmd.Flags().Duration("stream-timeout", 5*time.Minute, "Maximum duration of one SSE stream")

	viper.BindPFlags(ServerCmd.Flags())
}

func runServer(cmd *cobra.Command, args []string) {
	config := ServerConfig{
		Port:          viper.GetInt("port"),
		Host:          viper.GetString("host"),
		CORSOrigins:   viper.GetStringSlice("cors-origins"),
		MaxTurns:      viper.GetInt("max-turns"),
		StreamTimeout: viper.GetDuration("stream-timeout"),
	}

	// Load .env for provider credentials, once.
	if os.Getenv("DATACHAT_ENV_LOADED") == "" {
		if err := godotenv.Load(); err == nil {
			os.Setenv("DATACHAT_ENV_LOADED", "1")
			fmt.Println("[ENV] Loaded .env file for LLM config")
		}
	}

	lg, err := logger.CreateLogger(
		viper.GetString("log-file"),
		viper.GetString("log-level"),
		viper.GetString("log-format"),
		true,
	)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Close()

	// The retrieval index needs an embedder. A missing credential
	// degrades search instead of refusing to start: every other route
	// still works.
	var index rag.Searcher
	if embedder, err := llm.NewEmbedder(context.Background(), lg); err != nil {
		lg.Warnf("[SERVER] embedder unavailable, document search disabled: %v", err)
		index = rag.Unconfigured{Reason: err.Error()}
	} else {
		index = rag.NewIndex(embedder, lg)
	}

	api := &StreamingAPI{
		config:   config,
		index:    index,
		ingestor: ingest.New(index, lg),
		logger:   lg,
	}
	api.newSession = func(ctx context.Context, cfg agent.Config) (chatSession, error) {
		return agent.NewSession(ctx, cfg, agent.Deps{Index: api.index, Logger: api.logger})
	}

	router := mux.NewRouter()
	router.Use(api.corsMiddleware)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/chat", api.handleChat).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/chat/stream", api.handleChatStream).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/thinking", api.handleThinking).Methods("GET")
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")

	// WriteTimeout stays unset: SSE responses outlive any fixed write
	// deadline. Stream duration is bounded per request instead.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", config.Host, config.Port),
		ReadTimeout: time.Second * 30,
		IdleTimeout: time.Second * 300,
		Handler:     router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("🚀 Chat API server started on %s:%d\n", config.Host, config.Port)
	fmt.Printf("🔗 API endpoint: http://%s:%d/api/chat\n", config.Host, config.Port)
	lg.Infof("[SERVER] listening on %s:%d (stream timeout %s, max turns %d)",
		config.Host, config.Port, config.StreamTimeout, config.MaxTurns)

	// Wait for interrupt signal to gracefully shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	fmt.Println("\n🛑 Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	fmt.Println("✅ Server shutdown complete")
}

// CORS middleware
func (api *StreamingAPI) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range api.config.CORSOrigins {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Health check endpoint
func (api *StreamingAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
		"config": map[string]interface{}{
			"default_model":  agent.DefaultModel,
			"max_turns":      api.config.MaxTurns,
			"stream_timeout": api.config.StreamTimeout.String(),
		},
	})
}
