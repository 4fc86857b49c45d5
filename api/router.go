package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mailmind/mailmind/api/handlers"
	"github.com/mailmind/mailmind/internal/flagstore"
	"github.com/mailmind/mailmind/orchestrator"
)

// RouterConfig carries build metadata, readiness probes for the health
// endpoints and the optional flag store.
type RouterConfig struct {
	Version   string
	BuildTime string
	GitCommit string
	Checks    []handlers.HealthCheck

	// Flags backs the /v1/flags endpoints; nil leaves them unregistered.
	Flags *flagstore.Store
}

// NewRouter builds the daemon's route table.
func NewRouter(orch *orchestrator.Orchestrator, cfg RouterConfig, logger *zap.Logger) *http.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}

	chat := handlers.NewChatHandler(orch, logger)
	eng := handlers.NewEngineHandler(orch, logger)
	page := handlers.NewPageHandler(orch, logger)
	analyze := handlers.NewAnalyzeHandler(orch, logger)
	env := handlers.NewEnvelopeHandler(orch, logger)

	health := handlers.NewHealthHandler(logger)
	for _, c := range cfg.Checks {
		health.RegisterCheck(c)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", chat.HandleChat)
	mux.HandleFunc("GET /v1/chat/stream", chat.HandleChatStream)

	mux.HandleFunc("POST /v1/engine/load", eng.HandleLoad)
	mux.HandleFunc("GET /v1/engine/status", eng.HandleStatus)

	mux.HandleFunc("GET /v1/page/context", page.HandleContext)
	mux.HandleFunc("POST /v1/page/execute", page.HandleExecute)
	mux.HandleFunc("GET /v1/screenshot", page.HandleScreenshot)

	mux.HandleFunc("POST /v1/classify", analyze.HandleClassify)
	mux.HandleFunc("POST /v1/summarize", analyze.HandleSummarize)
	mux.HandleFunc("POST /v1/analyze-image", analyze.HandleAnalyzeImage)

	mux.HandleFunc("POST /v1/envelope", env.HandleEnvelope)

	if cfg.Flags != nil {
		flags := handlers.NewFlagsHandler(cfg.Flags, logger)
		mux.HandleFunc("GET /v1/flags/{key}", flags.HandleGet)
		mux.HandleFunc("PUT /v1/flags/{key}", flags.HandleSet)
		mux.HandleFunc("DELETE /v1/flags/{key}", flags.HandleClear)
	}

	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(cfg.Version, cfg.BuildTime, cfg.GitCommit))

	return mux
}
