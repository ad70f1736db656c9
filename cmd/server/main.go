package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"mai-dx-orchestrator/internal/debate"
	"mai-dx-orchestrator/internal/diagnosis"
	"mai-dx-orchestrator/internal/llm"
	"mai-dx-orchestrator/internal/report"
	"mai-dx-orchestrator/internal/scoring"
)

func main() {
	// 1. Configuration
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine, the environment may be set directly.
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Warn("OPENAI_API_KEY is not set; all model calls will degrade to fallbacks")
	}
	baseURL := os.Getenv("OPENAI_BASE_URL")
	model := os.Getenv("OPENAI_MODEL")

	maxRounds := envInt("DEBATE_MAX_ROUNDS", 3)
	pacing := time.Duration(envInt("AGENT_PACING_MS", 500)) * time.Millisecond

	// 2. Clients
	aiClient := llm.NewOpenAIClient(apiKey, baseURL, model, log)

	// 3. Services
	engine := debate.NewEngine(aiClient, pacing, log)
	costs := scoring.NewCostAnalyzer(aiClient, log)
	confirmer := scoring.NewConfirmer(aiClient, log)
	benchmark := scoring.NewBenchmark(aiClient, log)

	store := diagnosis.NewMemoryStore()
	svc := diagnosis.NewService(store, engine, aiClient, costs, confirmer, benchmark, maxRounds, log)
	handler := diagnosis.NewHandler(svc, report.NewService(), log)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		diagnosis.RegisterRoutes(r, handler)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.WithField("port", port).Info("server starting")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatal(err)
	}
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
