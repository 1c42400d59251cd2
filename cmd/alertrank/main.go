package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"alertrank/config"
	"alertrank/internal/api"
	inputredis "alertrank/internal/input/redis"
	"alertrank/internal/logger"
	"alertrank/internal/metrics"
	"alertrank/internal/pipeline"
	"alertrank/internal/retriever"
	"alertrank/internal/transform"
	"alertrank/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("alertrank.yml"); err == nil {
		return "alertrank.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "alertrank.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "alertrank.yml"
}

func applyDefaults(cfg *config.Config) {
	ar := &cfg.AlertRank

	if ar.Input.Format == "" {
		ar.Input.Format = transform.FormatAuto
	}
	if ar.Input.Redis.Addr == "" {
		ar.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if ar.Input.Redis.Key == "" {
		ar.Input.Redis.Key = "alerts"
	}
	if ar.Input.Redis.DeadLetterKey == "" {
		ar.Input.Redis.DeadLetterKey = ar.Input.Redis.Key + ":dead"
	}
	if ar.Input.Redis.BlockTimeout == 0 {
		ar.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if ar.Pipeline.Workers <= 0 {
		ar.Pipeline.Workers = 8
	}
	if ar.Pipeline.BatchSize <= 0 {
		ar.Pipeline.BatchSize = 100
	}
	if ar.Pipeline.FlushInterval <= 0 {
		ar.Pipeline.FlushInterval = 2 * time.Second
	}

	if ar.Classifier.Timeout <= 0 {
		ar.Classifier.Timeout = 5 * time.Second
	}
	if ar.Retriever.Collection == "" {
		ar.Retriever.Collection = retriever.DefaultCollection
	}
	if ar.Retriever.TopK <= 0 {
		ar.Retriever.TopK = retriever.DefaultTopK
	}
	if ar.Retriever.MinSimilarity == nil {
		v := 0.7
		ar.Retriever.MinSimilarity = &v
	}
	if ar.Retriever.Timeout <= 0 {
		ar.Retriever.Timeout = 3 * time.Second
	}
	if ar.Retriever.CacheSize == 0 {
		ar.Retriever.CacheSize = 1024
	}
	if ar.Enricher.URL == "" {
		ar.Enricher.URL = "http://127.0.0.1:11434"
	}
	if ar.Enricher.PrimaryModel == "" {
		ar.Enricher.PrimaryModel = "llama3.2:3b"
	}
	if ar.Enricher.Timeout <= 0 {
		ar.Enricher.Timeout = 60 * time.Second
	}

	if ar.Triage.ClassifyTimeout <= 0 {
		ar.Triage.ClassifyTimeout = ar.Classifier.Timeout
	}
	if ar.Triage.RetrieveTimeout <= 0 {
		ar.Triage.RetrieveTimeout = ar.Retriever.Timeout
	}
	if ar.Triage.EnrichTimeout <= 0 {
		ar.Triage.EnrichTimeout = ar.Enricher.Timeout
	}
	if ar.Triage.BatchConcurrency <= 0 {
		ar.Triage.BatchConcurrency = 10
	}

	if ar.Output.Mode == "" {
		ar.Output.Mode = "file"
	}
	if ar.Output.File.Path == "" {
		ar.Output.File.Path = "output/scored_alerts.jsonl"
	}
	if ar.Output.ClickHouse.Database == "" {
		ar.Output.ClickHouse.Database = "alertrank"
	}
	if ar.Output.ClickHouse.Table == "" {
		ar.Output.ClickHouse.Table = "scored_alerts"
	}
	if ar.Output.NATS.URL == "" {
		ar.Output.NATS.URL = "nats://127.0.0.1:4222"
	}

	if ar.Store.Redis.Addr == "" {
		ar.Store.Redis.Addr = ar.Input.Redis.Addr
	}
	if ar.Store.Redis.KeyPrefix == "" {
		ar.Store.Redis.KeyPrefix = "alertrank"
	}

	if ar.Server.Addr == "" {
		ar.Server.Addr = ":8080"
	}
	if ar.Server.MaxBatch <= 0 {
		ar.Server.MaxBatch = 1000
	}

	if ar.Logging.Level == "" {
		ar.Logging.Level = "info"
	}
}

func loadConfig(configArg string) (*config.Config, string) {
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if errors.Is(err, os.ErrNotExist) && configArg == "" {
		log.Printf("Warning: no config file found, using defaults")
		cfg, err = &config.Config{}, nil
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	lc := cfg.AlertRank.Logging
	if err := logger.Init(lc.Enabled, lc.Level, lc.File, lc.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, configPath
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configArg := fs.String("config", "", "Path to alertrank.yml")
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")
	fs.Parse(args)

	cfg, configPath := loadConfig(*configArg)
	logger.Infof("alertrank API starting")
	logger.Infof("Config loaded from: %s", configPath)

	reg := prometheus.NewRegistry()
	svc := buildService(cfg, metrics.NewMetrics(reg))
	parser := buildParser(cfg)

	var ranked api.RankedStore
	if cfg.AlertRank.Store.Enabled {
		rs := buildStore(cfg)
		defer rs.Close()
		ranked = rs
	}

	listen := cfg.AlertRank.Server.Addr
	if *addr != "" {
		listen = *addr
	}

	srv := api.NewServer(api.Config{
		MaxBodyBytes: cfg.AlertRank.Server.MaxBodyBytes,
		MaxBatch:     cfg.AlertRank.Server.MaxBatch,
	}, svc, parser, ranked, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, listen); err != nil {
		logger.Errorf("HTTP server error: %v", err)
		log.Fatalf("HTTP server error: %v", err)
	}
	logger.Infof("alertrank API stopped")
}

func runConsume(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	cfg, configPath := loadConfig(configArg)
	logger.Infof("alertrank consumer starting")
	logger.Infof("Config loaded from: %s", configPath)

	rc := cfg.AlertRank.Input.Redis
	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:          rc.Addr,
		Password:      rc.Password,
		DB:            rc.DB,
		Key:           rc.Key,
		DeadLetterKey: rc.DeadLetterKey,
		BlockTimeout:  rc.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	reg := prometheus.NewRegistry()
	svc := buildService(cfg, metrics.NewMetrics(reg))

	writers := []pipeline.AlertWriter{buildWriter(cfg)}
	if cfg.AlertRank.Store.Enabled {
		writers = append(writers, buildStore(cfg))
	}

	pipe := pipeline.NewRedisTriagePipeline(consumer, buildParser(cfg), svc, writers, pipeline.Options{
		Workers:       cfg.AlertRank.Pipeline.Workers,
		BatchSize:     cfg.AlertRank.Pipeline.BatchSize,
		FlushInterval: cfg.AlertRank.Pipeline.FlushInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("Pipeline error: %v", err)
	}

	logger.Infof("Shutting down")
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	st := pipe.Stats()
	logger.Infof("alertrank consumer stopped: received=%d scored=%d rejected=%d requeued=%d written=%d dropped=%d",
		st.Received, st.Scored, st.Rejected, st.Requeued, st.Written, st.Dropped)
}

func runScore(args []string) int {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	configArg := fs.String("config", "", "Path to alertrank.yml")
	input := fs.String("input", "-", "Alerts as JSONL or a JSON array; - reads stdin")
	output := fs.String("output", "-", "Ranked JSONL output path; - writes stdout")
	failures := fs.String("failures-output", "", "Optional JSONL path for alerts that could not be scored")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _ := loadConfig(*configArg)

	var in io.Reader = os.Stdin
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open input: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	payloads, err := readPayloads(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read alerts: %v\n", err)
		return 1
	}

	parser := buildParser(cfg)
	alerts := make([]*models.Alert, 0, len(payloads))
	var failed []failureRow
	for i, p := range payloads {
		alert, err := parser.Parse(p)
		if err != nil {
			failed = append(failed, failureRow{Index: i, Error: err.Error()})
			continue
		}
		alerts = append(alerts, alert)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := buildService(cfg, nil)
	result, err := svc.ScoreBatch(ctx, alerts)
	if err != nil && result == nil {
		fmt.Fprintf(os.Stderr, "failed to score alerts: %v\n", err)
		return 1
	}
	for _, f := range result.Failed {
		failed = append(failed, failureRow{Index: -1, AlertID: f.AlertID, Error: f.Error})
	}

	if *output == "-" {
		if err := encodeJSONLines(os.Stdout, result.Ranked); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write ranked alerts: %v\n", err)
			return 1
		}
	} else if err := writeJSONLines(*output, result.Ranked); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write ranked alerts: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*failures) != "" {
		if err := writeJSONLines(*failures, failed); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write failures: %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(os.Stderr, "scored alerts=%d ranked=%d failed=%d\n", len(payloads), len(result.Ranked), len(failed))
	return 0
}

type failureRow struct {
	Index   int    `json:"index"`
	AlertID string `json:"alert_id,omitempty"`
	Error   string `json:"error"`
}

// readPayloads accepts a JSON array of alerts or one alert per line.
func readPayloads(r io.Reader) ([]json.RawMessage, error) {
	br := bufio.NewReader(r)
	for {
		b, err := br.Peek(1)
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, err
		}
		if b[0] == ' ' || b[0] == '\t' || b[0] == '\r' || b[0] == '\n' {
			br.ReadByte()
			continue
		}
		if b[0] == '[' {
			var out []json.RawMessage
			if err := json.NewDecoder(br).Decode(&out); err != nil {
				return nil, fmt.Errorf("decode alert array: %w", err)
			}
			return out, nil
		}
		break
	}

	var out []json.RawMessage
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, json.RawMessage(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan alerts: %w", err)
	}
	return out, nil
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	return encodeJSONLines(f, rows)
}

func encodeJSONLines[T any](out io.Writer, rows []T) error {
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "consume":
			runConsume(os.Args[2:])
			return
		case "score":
			os.Exit(runScore(os.Args[2:]))
		case "-h", "--help", "help":
			fmt.Fprintln(os.Stderr, "usage: alertrank [serve|consume|score] [flags]")
			return
		default:
			// Bare config path runs the API.
			runServe([]string{"-config", os.Args[1]})
			return
		}
	}

	runServe(nil)
}
