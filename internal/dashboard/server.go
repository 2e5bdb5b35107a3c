// Package dashboard serves the read-only web view of the trading day:
// the live day snapshot, journaled trade history, and aggregate stats.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/metrics"
	"github.com/avollmer/openrange/internal/models"
)

//go:embed web/templates/*
var templateFS embed.FS

//go:embed web/static/*
var staticFS embed.FS

type Server struct {
	router    *chi.Mux
	server    *http.Server
	journal   journal.Interface
	snapshots *models.SnapshotStore
	broker    broker.Broker
	logger    *logrus.Logger
	port      int
	authToken string
	templates *template.Template
}

type Config struct {
	Port      int
	AuthToken string
}

// DayView is the dashboard's rendering of the live snapshot.
type DayView struct {
	RunID        string
	Date         string
	Phase        string
	PhaseDetail  string
	UpdatedAt    time.Time
	OpeningRange *models.OpeningRange
	Record       *models.TradeRecord
	Equity       float64
	HasEquity    bool
	MarketStatus string
}

// TradeView is one journal row prepared for rendering.
type TradeView struct {
	Date        string
	Setup       string
	TradeType   string
	KShort      float64
	KLong       float64
	CNetFill    float64
	Qty         int
	TotalPnL    float64
	OrderStatus string
	Filled      bool
	Settled     bool
	IsProfit    bool
}

func NewServer(cfg Config, j journal.Interface, snapshots *models.SnapshotStore, b broker.Broker, logger *logrus.Logger) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"pct": func(v float64) float64 { return v * 100 },
	}).ParseFS(templateFS, "web/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard templates: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		journal:   j,
		snapshots: snapshots,
		broker:    b,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		templates: tmpl,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	staticDir, _ := fs.Sub(staticFS, "web/static")
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticDir))))
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/day", s.handleGetDay)
	s.router.Get("/api/trades", s.handleGetTrades)
	s.router.Get("/api/stats", s.handleGetStats)

	s.router.Get("/partials/day", s.handleDayPartial)
	s.router.Get("/partials/trades", s.handleTradesPartial)
	s.router.Get("/partials/stats", s.handleStatsPartial)
}

// authMiddleware guards everything but /health and /metrics; the
// scrape endpoint stays open for the local Prometheus agent.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Day    DayView
		Trades []TradeView
		Stats  *journal.Stats
	}{Day: s.dayView(r.Context())}

	trades, err := s.journal.Trades()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read trade history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data.Trades = tradeViews(trades)

	stats, err := s.journal.Stats()
	if err != nil {
		s.logger.WithError(err).Error("Failed to aggregate stats")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data.Stats = stats

	if err := s.templates.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		s.logger.WithError(err).Error("Failed to execute dashboard template")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, health)
}

func (s *Server) handleGetDay(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.snapshots.Latest())
}

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request) {
	trades, err := s.journal.Trades()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read trade history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.journal.Stats()
	if err != nil {
		s.logger.WithError(err).Error("Failed to aggregate stats")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleDayPartial(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.ExecuteTemplate(w, "day.html", s.dayView(r.Context())); err != nil {
		s.logger.WithError(err).Error("Failed to execute day template")
	}
}

func (s *Server) handleTradesPartial(w http.ResponseWriter, _ *http.Request) {
	trades, err := s.journal.Trades()
	if err != nil {
		s.logger.WithError(err).Error("Failed to read trade history")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := s.templates.ExecuteTemplate(w, "trades.html", tradeViews(trades)); err != nil {
		s.logger.WithError(err).Error("Failed to execute trades template")
	}
}

func (s *Server) handleStatsPartial(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.journal.Stats()
	if err != nil {
		s.logger.WithError(err).Error("Failed to aggregate stats")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := s.templates.ExecuteTemplate(w, "stats.html", stats); err != nil {
		s.logger.WithError(err).Error("Failed to execute stats template")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) dayView(ctx context.Context) DayView {
	snap := s.snapshots.Latest()
	view := DayView{
		RunID:        snap.RunID,
		Date:         snap.Date,
		Phase:        string(snap.Phase),
		PhaseDetail:  snap.PhaseDetail,
		UpdatedAt:    snap.UpdatedAt,
		OpeningRange: snap.OpeningRange,
		Record:       snap.Record,
		MarketStatus: "Closed",
	}
	if isMarketOpen(time.Now()) {
		view.MarketStatus = "Open"
	}
	if s.broker != nil {
		if equity, err := s.broker.GetAccountEquity(ctx); err == nil {
			view.Equity = equity
			view.HasEquity = true
		} else {
			s.logger.WithError(err).Warn("Failed to read account equity")
		}
	}
	return view
}

func tradeViews(trades []models.TradeRecord) []TradeView {
	views := make([]TradeView, 0, len(trades))
	// Newest first.
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		views = append(views, TradeView{
			Date:        t.Date,
			Setup:       string(t.Setup),
			TradeType:   string(t.TradeType),
			KShort:      t.KShort,
			KLong:       t.KLong,
			CNetFill:    t.CNetFill,
			Qty:         t.Qty,
			TotalPnL:    t.TotalPnL,
			OrderStatus: t.OrderStatus,
			Filled:      t.Filled(),
			Settled:     t.Settled(),
			IsProfit:    t.Settled() && t.TotalPnL > 0,
		})
	}
	return views
}

func isMarketOpen(now time.Time) bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*3600)
	}
	nyTime := now.In(loc)

	if nyTime.Weekday() == time.Saturday || nyTime.Weekday() == time.Sunday {
		return false
	}

	totalMinutes := nyTime.Hour()*60 + nyTime.Minute()
	marketOpen := 9*60 + 30
	marketClose := 16 * 60
	return totalMinutes >= marketOpen && totalMinutes < marketClose
}
