package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Harvey-AU/bee-crawler/internal/api"
	"github.com/Harvey-AU/bee-crawler/internal/auth"
	"github.com/Harvey-AU/bee-crawler/internal/crawler"
	"github.com/Harvey-AU/bee-crawler/internal/jobs"
	"github.com/Harvey-AU/bee-crawler/internal/notifications"
	"github.com/Harvey-AU/bee-crawler/internal/observability"
	"github.com/Harvey-AU/bee-crawler/internal/techdetect"
	"github.com/Harvey-AU/bee-crawler/internal/util"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const serviceName = "bee-crawler"

// Config holds process-level settings. Crawler settings come from
// crawler.ConfigFromEnv.
type Config struct {
	Port                  string
	Env                   string
	SentryDSN             string
	LogLevel              string
	FlightRecorderEnabled bool
	ObservabilityEnabled  bool
	MetricsAddr           string
	OTLPEndpoint          string
	OTLPHeaders           string
	OTLPInsecure          bool
	SlackWebhookURL       string
	SeedURL               string
	ExitOnFinish          bool
	RateLimit             int
	RateBurst             int
}

func loadConfig(args []string) *Config {
	config := &Config{
		Port:                  getEnvWithDefault("PORT", "8080"),
		Env:                   getEnvWithDefault("APP_ENV", "development"),
		SentryDSN:             os.Getenv("SENTRY_DSN"),
		LogLevel:              getEnvWithDefault("LOG_LEVEL", "info"),
		FlightRecorderEnabled: getEnvWithDefault("FLIGHT_RECORDER_ENABLED", "false") == "true",
		ObservabilityEnabled:  getEnvWithDefault("OBSERVABILITY_ENABLED", "true") == "true",
		MetricsAddr:           getEnvWithDefault("METRICS_ADDR", ":9464"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:           os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
		OTLPInsecure:          getEnvWithDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
		SlackWebhookURL:       os.Getenv("SLACK_WEBHOOK_URL"),
		SeedURL:               strings.TrimSpace(os.Getenv("CRAWL_SEED_URL")),
		ExitOnFinish:          getEnvWithDefault("CRAWL_EXIT_ON_FINISH", "false") == "true",
		RateLimit:             getEnvInt("API_RATE_LIMIT", 20),
		RateBurst:             getEnvInt("API_RATE_BURST", 10),
	}

	// A positional argument overrides CRAWL_SEED_URL
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		config.SeedURL = strings.TrimSpace(args[0])
	}

	return config
}

func main() {
	// Load .env files - .env.local takes priority for development
	_ = godotenv.Load(".env.local", ".env")

	config := loadConfig(os.Args[1:])

	if config.FlightRecorderEnabled {
		f, err := os.Create("trace.out")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create trace file")
		}
		if err := trace.Start(f); err != nil {
			log.Fatal().Err(err).Msg("failed to start flight recorder")
		}
		log.Info().Msg("Flight recorder enabled, writing to trace.out")
		defer func() {
			trace.Stop()
			f.Close()
		}()
	}

	setupLogging(config)

	if config.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.SentryDSN,
			Environment: config.Env,
			TracesSampleRate: func() float64 {
				if config.Env == "production" {
					return 0.1
				}
				return 1.0
			}(),
			AttachStacktrace: true,
			Debug:            config.Env == "development",
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise Sentry")
		} else {
			log.Info().Str("environment", config.Env).Msg("Sentry initialised successfully")
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Warn().Msg("Sentry DSN not configured, error tracking disabled")
	}

	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	var obsProviders *observability.Providers
	if config.ObservabilityEnabled {
		var err error
		obsProviders, err = observability.Init(appCtx, observability.Config{
			Enabled:        true,
			ServiceName:    serviceName,
			Environment:    config.Env,
			OTLPEndpoint:   strings.TrimSpace(config.OTLPEndpoint),
			OTLPHeaders:    parseOTLPHeaders(config.OTLPHeaders),
			OTLPInsecure:   config.OTLPInsecure,
			MetricsAddress: config.MetricsAddr,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialise observability providers")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := obsProviders.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush telemetry providers cleanly")
				}
			}()

			if obsProviders.MetricsHandler != nil && config.MetricsAddr != "" {
				metricsSrv := &http.Server{
					Addr:              config.MetricsAddr,
					Handler:           obsProviders.MetricsHandler,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					log.Info().Str("addr", config.MetricsAddr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						sentry.CaptureException(err)
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Graceful shutdown of metrics server failed")
					}
				}()
			}
		}
	}

	crawlerConfig, err := crawler.ConfigFromEnv()
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Invalid crawler configuration")
	}

	session := buildSession(crawlerConfig, config)

	var authenticate func(http.Handler) http.Handler
	authConfig, err := auth.NewConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid auth configuration")
	}
	if authConfig != nil {
		authClient, err := auth.NewJWKSAuthClient(appCtx, authConfig)
		if err != nil {
			sentry.CaptureException(err)
			log.Fatal().Err(err).Msg("Failed to initialise API authentication")
		}
		authenticate = auth.Middleware(authClient)
		log.Info().Str("jwks_url", authConfig.JWKSURL).Msg("API authentication enabled")
	} else {
		log.Warn().Msg("AUTH_JWKS_URL not set, control API is unauthenticated")
	}

	limiter := newRateLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	handler := newServerHandler(api.NewHandler(session, authenticate), limiter)
	handler = observability.WrapHandler(handler, obsProviders)

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	finished := make(chan struct{})
	if config.SeedURL != "" {
		if err := session.Start(config.SeedURL); err != nil {
			log.Fatal().Err(err).Str("seed_url", config.SeedURL).Msg("Failed to start crawl")
		}
		if config.ExitOnFinish {
			go func() {
				if err := session.Wait(appCtx); err == nil {
					close(finished)
				}
			}()
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			log.Info().Msg("Shutting down server...")
		case <-finished:
			if err := writeRunReport(os.Stdout, session); err != nil {
				log.Error().Err(err).Msg("Failed to write crawl report")
			}
			log.Info().Msg("Crawl finished, shutting down")
		}

		session.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		close(done)
	}()

	log.Info().
		Str("port", config.Port).
		Str("health", fmt.Sprintf("http://localhost:%s/health", config.Port)).
		Msg("Starting server")

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		sentry.CaptureException(err)
		log.Fatal().Err(err).Msg("Server error")
	}

	<-done
	log.Info().Msg("Server stopped")
}

// buildSession wires the crawl session with its optional collaborators
func buildSession(crawlerConfig *crawler.Config, config *Config) *jobs.Session {
	notifier := notifications.NewService(notifications.LogNotifier{})
	if config.SlackWebhookURL != "" {
		slackNotifier, err := notifications.NewSlackNotifier(config.SlackWebhookURL, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			log.Warn().Err(err).Msg("Slack notifications disabled")
		} else {
			notifier.AddChannel(slackNotifier)
		}
	}

	opts := []jobs.SessionOption{jobs.WithNotifier(notifier)}

	if crawlerConfig.DetectTechnologies {
		detector, err := techdetect.New()
		if err != nil {
			log.Warn().Err(err).Msg("Technology detection disabled")
		} else {
			opts = append(opts, jobs.WithTechDetector(detector))
		}
	}

	return jobs.NewSession(crawlerConfig, crawler.New(crawlerConfig), opts...)
}

// newServerHandler builds the API mux behind the standard middleware chain
func newServerHandler(apiHandler *api.Handler, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	apiHandler.SetupRoutes(mux)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !limiter.getLimiter(util.GetClientIP(r)).Allow() {
			api.TooManyRequests(w, r, "Too many requests", time.Second)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Add middleware in reverse order (outermost last)
	handler = api.RecoverMiddleware(handler)
	handler = api.LoggingMiddleware(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = api.SecurityHeadersMiddleware(handler)
	handler = api.CrossOriginProtectionMiddleware(handler)
	handler = api.CORSMiddleware(handler)
	return handler
}

// runReport is printed when the process exits after a crawl
type runReport struct {
	Summary *notifications.Summary `json:"summary,omitempty"`
	Stats   jobs.Stats             `json:"stats"`
	Results []*crawler.CrawlResult `json:"results"`
}

type reportSource interface {
	LastSummary() (notifications.Summary, bool)
	GetStats() jobs.Stats
	GetResults() []*crawler.CrawlResult
}

func writeRunReport(w io.Writer, s reportSource) error {
	report := runReport{
		Stats:   s.GetStats(),
		Results: s.GetResults(),
	}
	if summary, ok := s.LastSummary(); ok {
		report.Summary = &summary
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// getEnvWithDefault retrieves an environment variable or returns a default value if not set
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns a default value if not set or invalid
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result int
	if _, err := fmt.Sscanf(value, "%d", &result); err != nil {
		log.Warn().
			Str("key", key).
			Str("value", value).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
		return defaultValue
	}

	return result
}

func parseOTLPHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(strings.TrimSpace(raw), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}

// setupLogging configures the logging system
func setupLogging(config *Config) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}

	// Logs go to stderr so a crawl report on stdout stays parseable
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// RateLimiter hands out a token bucket per client IP
type RateLimiter struct {
	limits   map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	capacity int
}

func newRateLimiter(r rate.Limit, capacity int) *RateLimiter {
	if r <= 0 {
		r = rate.Limit(20)
	}
	if capacity <= 0 {
		capacity = 10
	}
	return &RateLimiter{
		limits:   make(map[string]*rate.Limiter),
		rate:     r,
		capacity: capacity,
	}
}

// getLimiter returns the limiter for ip, creating it on first use
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limits[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.capacity)
		rl.limits[ip] = limiter
	}
	return limiter
}
