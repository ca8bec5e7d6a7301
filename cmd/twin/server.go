package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/twin/internal/api"
	"github.com/kalambet/twin/internal/audiostore"
	"github.com/kalambet/twin/internal/breaker"
	"github.com/kalambet/twin/internal/cache"
	"github.com/kalambet/twin/internal/chat"
	"github.com/kalambet/twin/internal/config"
	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/engine"
	"github.com/kalambet/twin/internal/generate"
	"github.com/kalambet/twin/internal/ingest"
	"github.com/kalambet/twin/internal/langdetect"
	"github.com/kalambet/twin/internal/metrics"
	"github.com/kalambet/twin/internal/openrouter"
	"github.com/kalambet/twin/internal/persona"
	"github.com/kalambet/twin/internal/phone"
	"github.com/kalambet/twin/internal/pipeline"
	"github.com/kalambet/twin/internal/reranking"
	"github.com/kalambet/twin/internal/responder"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
	"github.com/kalambet/twin/internal/speech"
	"github.com/kalambet/twin/internal/storage"
	"github.com/kalambet/twin/internal/transcribe"
)

const (
	maintenanceInterval = time.Minute
	callRetention       = time.Hour
	replayRetention     = 24 * time.Hour
	decisionLogInFlight = 64
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the twin server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running twin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show twin system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP on stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "twin.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "twin version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("twin is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("twin is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.Detect(engine.DetectConfig{OllamaBaseURL: cfg.Ollama.BaseURL})
	if err != nil {
		return fmt.Errorf("detecting inference engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, cfg.Ollama.FastModel, cfg.Ollama.EmbedModel); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	m := metrics.New("twin")
	bs := breaker.DefaultSettings()

	cacheBackend, closeCache, err := newCacheBackend(ctx, cfg.Cache, store)
	if err != nil {
		return err
	}
	defer closeCache()
	layer := cache.NewLayer(cacheBackend, cache.TTLs{
		cache.CategoryGreeting:   cfg.Cache.GreetingTTL,
		cache.CategoryResponse:   cfg.Cache.ResponseTTL,
		cache.CategoryTranscript: cfg.Cache.TranscriptTTL,
		cache.CategoryAudio:      cfg.Cache.AudioTTL,
	}, cfg.Cache.Timeout, m)

	detector := langdetect.NewHeuristic()
	sessions := session.NewSQLStore(store, session.Options{
		PrimaryLanguage: cfg.Session.PrimaryLanguage,
		SwitchThreshold: cfg.Session.LanguageSwitchThreshold,
	})

	// Transcription: Deepgram first, Cartesia as fallback. Twilio recording
	// URLs need the account credentials to download.
	var transcriber pipeline.Transcriber
	var stt []transcribe.Transcriber
	if cfg.Transcription.DeepgramAPIKey != "" {
		stt = append(stt, transcribe.NewDeepgram(cfg.Transcription.DeepgramAPIKey, cfg.Transcription.DeepgramBaseURL, cfg.Transcription.DeepgramModel))
	}
	if cfg.Speech.CartesiaAPIKey != "" {
		fetcher := &transcribe.HTTPFetcher{
			Username:   cfg.Phone.TwilioAccountSID,
			Password:   cfg.Phone.TwilioAuthToken,
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		}
		stt = append(stt, transcribe.NewCartesia(cfg.Speech.CartesiaAPIKey, cfg.Transcription.CartesiaBaseURL, fetcher))
	}
	if len(stt) > 0 {
		transcriber = transcribe.NewService(transcribe.NewChain(bs, m, stt...), layer, detector, transcribe.Config{
			MinAudioBytes: cfg.Transcription.MinAudioBytes,
			MinConfidence: cfg.Transcription.MinConfidence,
		})
	} else {
		slog.Warn("no transcription provider configured, audio turns will be re-prompted")
	}

	decisionLog := decision.NewAsyncLog(store, decisionLogInFlight)
	defer decisionLog.Wait()
	var classifier decision.Classifier
	if cfg.Decision.ClassifierEnabled {
		classifier = decision.NewLLMClassifier(engine.ChatAdapter(eng), cfg.Ollama.FastModel)
	}
	decider := decision.NewEngine(decision.Config{
		MinChars:            cfg.Decision.MinChars,
		EscalationThreshold: cfg.Decision.EscalationThreshold,
		ClarifyThreshold:    cfg.Decision.ClarifyThreshold,
		ClassifierTimeout:   cfg.Decision.ClassifierTimeout,
	}, classifier, decisionLog, m)

	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	opts := retrieval.Options{
		Reranker: reranking.New(eng, reranking.Config{
			Enabled:   cfg.Reranking.Enabled,
			Model:     cfg.Ollama.FastModel,
			Timeout:   cfg.Reranking.Timeout,
			Threshold: cfg.Reranking.Threshold,
			TopK:      cfg.Retrieval.TopK,
		}),
	}
	if !cfg.Retrieval.Multilingual {
		opts.Translator = retrieval.NewLLMTranslator(eng, cfg.Ollama.FastModel)
	}
	if cfg.Feed.URL != "" {
		opts.Live = retrieval.NewFeedLiveSource(cfg.Feed.URL, cfg.Feed.Token)
	}
	retriever := retrieval.NewRetriever(embedder, vectors, retrieval.Config{
		TopK:             cfg.Retrieval.TopK,
		IndexLanguage:    cfg.Retrieval.IndexLanguage,
		Multilingual:     cfg.Retrieval.Multilingual,
		TranslateTimeout: cfg.Retrieval.TranslateTimeout,
	}, opts)

	gen, err := newGenerator(ctx, cfg, eng)
	if err != nil {
		return err
	}
	personaMgr := persona.NewManager(store)
	resp := responder.New(gen, personaMgr, responder.Config{
		HistoryTurns: cfg.Responder.HistoryTurns,
		MaxTokens:    cfg.Generation.MaxTokens,
		Temperature:  cfg.Generation.Temperature,
	}, m)

	audio, audioDir, err := newAudioStore(ctx, cfg)
	if err != nil {
		return err
	}
	var synths []speech.Synthesizer
	catalog := speech.Catalog{
		Primary:        cfg.Session.PrimaryLanguage,
		VoiceIDs:       map[string]string{},
		LanguageVoices: map[string]map[string]string{},
	}
	if cfg.Speech.ElevenLabsAPIKey != "" {
		synths = append(synths, speech.NewElevenLabs(cfg.Speech.ElevenLabsAPIKey, cfg.Speech.ElevenLabsBaseURL))
		catalog.VoiceIDs["elevenlabs"] = cfg.Speech.ElevenLabsVoiceID
		catalog.LanguageVoices["elevenlabs"] = config.ParseLanguageVoices(cfg.Speech.ElevenLabsLanguageVoices)
	}
	if cfg.Speech.CartesiaAPIKey != "" {
		synths = append(synths, speech.NewCartesia(cfg.Speech.CartesiaAPIKey, cfg.Speech.CartesiaBaseURL))
		catalog.VoiceIDs["cartesia"] = cfg.Speech.CartesiaVoiceID
		catalog.LanguageVoices["cartesia"] = config.ParseLanguageVoices(cfg.Speech.CartesiaLanguageVoices)
	}
	for _, synth := range synths {
		if missing := catalog.Missing(synth.Name(), langdetect.Supported); len(missing) > 0 {
			slog.Warn("languages without their own voice use the provider default", "provider", synth.Name(), "languages", missing)
		}
	}
	speechSvc := speech.NewService(audio, layer, catalog, speech.Config{ProviderTimeout: cfg.Speech.ProviderTimeout}, bs, m, synths...)

	replay := pipeline.NewSQLReplay(store)
	processor := pipeline.New(pipeline.Deps{
		Sessions:    sessions,
		Transcriber: transcriber,
		Detector:    detector,
		Decider:     decider,
		Retriever:   retriever,
		Responder:   resp,
		Speech:      speechSvc,
		Cache:       layer,
		Replay:      replay,
		Metrics:     m,
	}, pipeline.Config{
		TurnTimeout:       cfg.Pipeline.TurnTimeout,
		TranscribeTimeout: cfg.Pipeline.TranscribeTimeout,
		DecideTimeout:     cfg.Pipeline.DecideTimeout,
		RetrieveTimeout:   cfg.Pipeline.RetrieveTimeout,
		GenerateTimeout:   cfg.Pipeline.GenerateTimeout,
		SynthesizeTimeout: cfg.Pipeline.SynthesizeTimeout,
		PrimaryLanguage:   cfg.Session.PrimaryLanguage,
		SwitchThreshold:   cfg.Session.LanguageSwitchThreshold,
	})

	calls := phone.NewCallStore()
	adapter := phone.NewAdapter(phone.Deps{
		Turns:     processor,
		Speech:    speechSvc,
		Sessions:  sessions,
		Greetings: personaMgr,
		Replay:    replay,
		Metrics:   m,
	}, calls, phone.Config{
		PublicURL:         cfg.Server.PublicURL,
		PrimaryLanguage:   cfg.Session.PrimaryLanguage,
		ThinkingThreshold: cfg.Phone.ThinkingThreshold,
		HardTimeout:       cfg.Phone.HardTimeout,
		MaxSilentTurns:    cfg.Phone.MaxSilentTurns,
		RecordMaxLength:   cfg.Phone.RecordMaxLength,
	})
	if cfg.Phone.TwilioAuthToken == "" {
		slog.Warn("twilio auth token not set, phone webhook signatures are not verified")
	}

	knowledge := ingest.NewService(store, vectors, detector, &http.Client{Timeout: 15 * time.Second})
	var feed *ingest.FeedClient
	adminDeps := api.AdminDeps{
		Token:     apiToken,
		Knowledge: knowledge,
		Search:    retriever,
		Persona:   personaMgr,
		Sessions:  sessions,
		Recent:    store,
		Decisions: store,
	}
	if cfg.Feed.URL != "" {
		feed = ingest.NewFeedClient(cfg.Feed.URL, cfg.Feed.Token, store)
		adminDeps.Feed = feed
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Search:    retriever,
		Turns:     processor,
		Knowledge: knowledge,
		Persona:   personaMgr,
		Decisions: store,
	}, version)

	router := chi.NewRouter()
	router.Mount("/admin", api.NewAdminHandler(adminDeps))
	router.Handle("/mcp", api.BearerAuth(apiToken)(server.NewStreamableHTTPServer(mcpSrv)))
	router.Mount("/", api.NewPublicHandler(api.PublicDeps{
		Chat:     chat.NewHandler(processor, m),
		Phone:    phone.NewHandler(adapter, cfg.Phone.TwilioAuthToken, cfg.Server.PublicURL, m),
		Metrics:  m.Handler(),
		AudioDir: audioDir,
		Calls:    calls,
		Version:  version,
	}))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ingest.NewWorker(store, embedder, vectors, 500*time.Millisecond).Run(gctx)
		return nil
	})
	if feed != nil {
		g.Go(func() error {
			runFeedSync(gctx, feed, cfg.Feed.SyncInterval)
			return nil
		})
	}
	g.Go(func() error {
		runMaintenance(gctx, cfg, calls, sessions, replay, cacheBackend)
		return nil
	})
	phrases := func(lang string) []string {
		out := fixedPhrases(lang)
		if greeting := personaMgr.Greeting(lang); greeting != "" {
			out = append(out, greeting)
		}
		return out
	}
	for _, lang := range langdetect.Supported {
		speechSvc.RegisterPhrases(phrases(lang)...)
	}
	if len(synths) > 0 {
		g.Go(func() error {
			speechSvc.Prewarm(gctx, phrases, langdetect.Supported)
			return nil
		})
	}
	if mcpStdio {
		g.Go(func() error {
			stdioSrv := server.NewStdioServer(mcpSrv)
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "twin listening on %s (public URL %s)\n", addr, cfg.Server.PublicURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newCacheBackend returns the configured cache backend and its cleanup.
func newCacheBackend(ctx context.Context, cfg config.CacheConfig, store *storage.Store) (cache.Backend, func(), error) {
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryBackend(), func() {}, nil
	case "redis":
		b, err := cache.NewRedisBackend(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return b, func() { b.Close() }, nil
	default:
		return cache.NewSQLiteBackend(store), func() {}, nil
	}
}

func newGenerator(ctx context.Context, cfg config.Config, eng engine.Engine) (generate.Generator, error) {
	switch cfg.Generation.Provider {
	case "gemini":
		g, err := generate.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "ollama":
		return generate.NewOllama(eng, cfg.Ollama.FastModel), nil
	default:
		return generate.NewOpenRouter(openrouter.NewClient(cfg.Proxy.OpenRouterAPIKey), cfg.Proxy.DefaultModel), nil
	}
}

// newAudioStore returns the audio store and, for the file backend, the
// directory the public handler serves.
func newAudioStore(ctx context.Context, cfg config.Config) (audiostore.Store, string, error) {
	if cfg.AudioStore.Backend == "s3" {
		s, err := audiostore.NewS3Store(ctx, audiostore.S3Config{
			Bucket:  cfg.AudioStore.S3Bucket,
			Region:  cfg.AudioStore.S3Region,
			Prefix:  cfg.AudioStore.S3Prefix,
			BaseURL: cfg.AudioStore.BaseURL,
		})
		if err != nil {
			return nil, "", fmt.Errorf("creating s3 audio store: %w", err)
		}
		return s, "", nil
	}

	baseURL := cfg.AudioStore.BaseURL
	if baseURL == "" {
		baseURL = cfg.Server.PublicURL
	}
	f, err := audiostore.NewFileStore(filepath.Join(cfg.Storage.DataDir, "audio"), baseURL)
	if err != nil {
		return nil, "", err
	}
	return f, f.Dir(), nil
}

// fixedPhrases lists every canned utterance of lang worth synthesizing ahead
// of the first call.
func fixedPhrases(lang string) []string {
	return append(phone.Phrases(lang), pipeline.Reprompt(lang), responder.Apology(lang))
}

func runFeedSync(ctx context.Context, feed *ingest.FeedClient, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := feed.Sync(ctx)
		if err != nil {
			slog.Warn("feed sync failed", "error", err)
		} else if res.Created > 0 || res.Updated > 0 {
			slog.Info("feed synced", "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type cachePurger interface {
	Purge(ctx context.Context) (int, error)
}

func runMaintenance(ctx context.Context, cfg config.Config, calls *phone.CallStore, sessions *session.SQLStore, replay *pipeline.SQLReplay, backend cache.Backend) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if n := calls.Purge(now.Add(-callRetention)); n > 0 {
			slog.Debug("purged finished calls", "count", n)
		}
		if cfg.Session.IdleTimeout > 0 {
			if n, err := sessions.PurgeIdle(ctx, now.Add(-cfg.Session.IdleTimeout)); err != nil {
				slog.Warn("purging idle sessions failed", "error", err)
			} else if n > 0 {
				slog.Debug("purged idle sessions", "count", n)
			}
		}
		if _, err := replay.Purge(ctx, now.Add(-replayRetention)); err != nil {
			slog.Warn("purging webhook replay records failed", "error", err)
		}
		if p, ok := backend.(cachePurger); ok {
			if _, err := p.Purge(ctx); err != nil {
				slog.Warn("purging expired cache entries failed", "error", err)
			}
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("twin is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop twin (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to twin (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health struct {
			Uptime      string `json:"uptime"`
			ActiveCalls int    `json:"activeCalls"`
		}
		json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d (up %s)", cfg.Server.Port, health.Uptime)
			printStatus("Active calls", "%d", health.ActiveCalls)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Fast model", "%s", cfg.Ollama.FastModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Generation", "%s", cfg.Generation.Provider)
	printStatus("Public URL", "%s", cfg.Server.PublicURL)

	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && running {
		if n, ok := countItems(client, serverURL+"/admin/knowledge?limit=100", apiToken); ok {
			printStatus("Knowledge docs", "%s", countLabel(n, 100))
		}
		if n, ok := countItems(client, serverURL+"/admin/decisions?limit=100", apiToken); ok {
			printStatus("Decisions", "%s", countLabel(n, 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countItems(client *http.Client, url, token string) (int, bool) {
	resp, err := apiGet(client, url, token)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	var items []json.RawMessage
	if json.NewDecoder(resp.Body).Decode(&items) != nil {
		return 0, false
	}
	return len(items), true
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
