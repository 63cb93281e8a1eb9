package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sjawhar/rehearsal/internal/audio"
	"github.com/sjawhar/rehearsal/internal/config"
	"github.com/sjawhar/rehearsal/internal/devicecheck"
	"github.com/sjawhar/rehearsal/internal/evaluation"
	"github.com/sjawhar/rehearsal/internal/gdrive"
	"github.com/sjawhar/rehearsal/internal/llm"
	"github.com/sjawhar/rehearsal/internal/media"
	"github.com/sjawhar/rehearsal/internal/metrics"
	"github.com/sjawhar/rehearsal/internal/practice"
	"github.com/sjawhar/rehearsal/internal/server"
	"github.com/sjawhar/rehearsal/internal/speech"
	"github.com/sjawhar/rehearsal/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	log.Println("rehearsal: starting")

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := seedQuestions(ctx, store, cfg.QuestionsFile); err != nil {
		log.Fatalf("seed questions failed: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := server.NewHub()
	arbiter := audio.NewArbiter()
	arbiter.SetObserver(m)
	arbiter.OnChange(hub.BroadcastAudioSession)

	devices := openAudio(&cfg)
	if devices.portAudio != nil {
		defer func() { _ = devices.portAudio.Terminate() }()
	}

	var recognizer speech.Recognizer
	if cfg.DeepgramAPIKey != "" {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
		recognizer = speech.NewDeepgramRecognizer(cfg.DeepgramAPIKey, cfg.DeepgramModel)
	}

	var synth speech.Synthesizer
	if devices.player != nil {
		g, err := speech.NewGoogleSynthesizer(ctx, cfg.GoogleCredentialsFile, devices.player)
		if err != nil {
			log.Printf("warning: text-to-speech unavailable: %v", err)
		} else {
			defer func() { _ = g.Close() }()
			synth = g
		}
	}

	narrator := speech.NewNarrator(arbiter, synth, cfg.Language)
	narrator.SetSettings(speech.NarrationSettings{Rate: cfg.SpeechRate, Volume: cfg.SpeechVolume, Voice: cfg.SpeechVoice})
	narrator.OnProgress(hub.BroadcastNarrationProgress)

	codec := media.NewFFmpegCodec()
	clips := audio.NewClipStore()
	player := audio.NewClipPlayer(arbiter, devices.player, codec, clips)

	archive := storage.NewArchive(store, storage.NewReportWriter(cfg.ReportDir), newUploader(ctx, cfg))

	var ctrl *practice.Controller
	flow := devicecheck.New(devicecheck.Deps{
		Arbiter:    arbiter,
		Devices:    devices.lister,
		Capturer:   devices.capturer,
		Codec:      codec,
		Recognizer: recognizer,
		Narrator:   narrator,
		Clips:      clips,
		Player:     player,
		Events:     hub,
		OnComplete: func(ctx context.Context) error { return ctrl.Start(ctx) },
	})

	stage, _ := practice.LookupStage("hr")
	ctrl = practice.New(stage, practice.Deps{
		Arbiter:    arbiter,
		Questions:  store,
		Evaluator:  newEvaluator(cfg),
		Sink:       archive,
		Capturer:   devices.capturer,
		Codec:      codec,
		Recognizer: recognizer,
		Narrator:   narrator,
		Clips:      clips,
		Player:     player,
		Events:     hub,
		Observer:   m,
		Device: func() string {
			if id := flow.State().SelectedDevice; id != "" {
				return id
			}
			return cfg.MicDevice
		},
		Ready: func() bool {
			return flow.State().Step == devicecheck.StepCompleted
		},
		QuestionCount:  cfg.QuestionsPerSession,
		AnswerDuration: cfg.ParsedAnswerDuration(),
	})
	if err := ctrl.LoadQuestions(ctx); err != nil {
		log.Printf("warning: initial question load failed: %v", err)
	}

	deps := server.Deps{
		Hub:         hub,
		DeviceCheck: flow,
		Practice:    ctrl,
		History:     store,
		Narration:   narrator,
		Clips:       clips,
		Arbiter:     arbiter,
		Warnings:    func() []string { return warnings },
		Metrics:     m,
		Gatherer:    registry,
	}
	if cfg.WebDir != "" {
		deps.StaticFS = os.DirFS(cfg.WebDir)
	}
	handler, err := server.Handler(deps)
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	log.Printf("rehearsal: web UI on http://%s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("rehearsal: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}

	ctrl.Exit()
	ctrl.Wait()
}

func seedQuestions(ctx context.Context, store *storage.SQLiteStore, path string) error {
	var (
		questions []practice.Question
		err       error
	)
	if path != "" {
		questions, err = storage.LoadQuestionsFile(path)
	} else {
		questions, err = storage.DefaultQuestions()
	}
	if err != nil {
		return err
	}

	added, err := store.SeedQuestions(ctx, questions)
	if err != nil {
		return err
	}
	if added > 0 {
		slog.Info("seeded question bank", "added", added)
	}
	return nil
}

// audioDevices holds the platform audio adapters. Each field is nil when the
// capability is unavailable so consumers see media.ErrUnsupported.
type audioDevices struct {
	portAudio *media.PortAudio
	lister    media.DeviceLister
	capturer  media.Capturer
	player    media.Player
}

func openAudio(cfg *config.Config) audioDevices {
	pa := media.NewPortAudio(cfg.SampleRateCandidates(), cfg.FramesPerBuffer)
	if err := pa.Initialize(); err != nil {
		log.Printf("warning: audio devices unavailable, running API/UI only: %v", err)
		return audioDevices{}
	}
	return audioDevices{portAudio: pa, lister: pa, capturer: pa, player: pa}
}

func newEvaluator(cfg config.Config) practice.Evaluator {
	if cfg.EvaluationURL != "" {
		return evaluation.NewHTTPClient(cfg.EvaluationURL, &http.Client{Timeout: 2 * time.Minute})
	}
	return evaluation.NewLLMEvaluator(cfg.EvaluationModel, func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.LLMAPIKey(provider), model)
	})
}

func newUploader(ctx context.Context, cfg config.Config) storage.Uploader {
	if cfg.GDriveFolderID == "" {
		return nil
	}
	syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
	if err != nil {
		log.Printf("warning: gdrive sync disabled: %v", err)
		return nil
	}
	return syncer
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
