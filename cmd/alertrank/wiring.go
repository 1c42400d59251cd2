package main

import (
	"log"
	"strings"

	"alertrank/config"
	"alertrank/internal/classifier"
	"alertrank/internal/enricher"
	"alertrank/internal/features"
	"alertrank/internal/knowledge"
	"alertrank/internal/logger"
	"alertrank/internal/metrics"
	"alertrank/internal/output/alertclickhouse"
	"alertrank/internal/output/alerthttp"
	"alertrank/internal/output/alertjson"
	"alertrank/internal/output/alertnats"
	"alertrank/internal/pipeline"
	"alertrank/internal/retriever"
	"alertrank/internal/scoring"
	"alertrank/internal/store"
	"alertrank/internal/transform"
	"alertrank/internal/triage"
	"alertrank/pkg/models"
)

func buildCatalog(cfg *config.Config) *knowledge.Catalog {
	catalog := knowledge.DefaultCatalog()
	path := strings.TrimSpace(cfg.AlertRank.Knowledge.SigmaRulesPath)
	if path == "" {
		return catalog
	}

	sigmaCatalog, stats, err := knowledge.LoadSigmaCatalog(path)
	if err != nil {
		logger.Errorf("Failed to load Sigma rules from %s: %v", path, err)
		log.Fatalf("Failed to load Sigma rules: %v", err)
	}
	catalog.Merge(sigmaCatalog)
	logger.Infof("Sigma rules loaded: files=%d rules=%d techniques=%d skipped_invalid=%d skipped_level=%d skipped_no_technique=%d",
		stats.TotalFiles,
		stats.Loaded,
		stats.Techniques,
		stats.SkippedInvalid,
		stats.SkippedLevel,
		stats.SkippedNoTechnique,
	)
	if stats.Loaded == 0 {
		logger.Warnf("No Sigma rules contributed techniques; using the built-in catalog only")
	}
	return catalog
}

func buildScorer(cfg *config.Config) *scoring.Scorer {
	sc := cfg.AlertRank.Scoring

	weights := scoring.DefaultWeights()
	if sc.Weights != nil {
		weights = *sc.Weights
	}

	var scale scoring.SeverityScale
	if len(sc.SeverityScale) > 0 {
		scale = scoring.SeverityScale{}
		for raw, v := range sc.SeverityScale {
			sev, err := models.ParseSeverity(raw)
			if err != nil {
				log.Fatalf("Invalid scoring.severity_scale: %v", err)
			}
			scale[sev] = v
		}
	}

	scorer, err := scoring.NewScorer(scoring.Config{
		Weights:  weights,
		Scale:    scale,
		HalfLife: sc.HalfLife,
	}, buildCatalog(cfg))
	if err != nil {
		logger.Errorf("Invalid scoring configuration: %v", err)
		log.Fatalf("Invalid scoring configuration: %v", err)
	}
	return scorer
}

// buildService wires the scorer with whichever remote dependencies are
// configured. Unconfigured ones stay nil interfaces so their terms degrade.
func buildService(cfg *config.Config, m *metrics.Metrics) *triage.Service {
	ar := cfg.AlertRank

	var cls triage.Classifier
	if strings.TrimSpace(ar.Classifier.URL) != "" {
		c, err := classifier.New(classifier.Config{
			URL:     ar.Classifier.URL,
			Timeout: ar.Classifier.Timeout,
			Models:  ar.Classifier.Models,
			Headers: ar.Classifier.Headers,
			Retries: ar.Classifier.Retries,
		})
		if err != nil {
			log.Fatalf("Failed to create classifier client: %v", err)
		}
		cls = c
		logger.Infof("Classifier: %s (models %s)", ar.Classifier.URL, strings.Join(c.Models(), ","))
	} else {
		logger.Warnf("Classifier URL not configured; confidence term will be degraded")
	}

	var ret triage.Retriever
	if strings.TrimSpace(ar.Retriever.URL) != "" {
		r, err := retriever.New(retriever.Config{
			URL:           ar.Retriever.URL,
			Collection:    ar.Retriever.Collection,
			TopK:          ar.Retriever.TopK,
			MinSimilarity: *ar.Retriever.MinSimilarity,
			Timeout:       ar.Retriever.Timeout,
			CacheSize:     ar.Retriever.CacheSize,
			Headers:       ar.Retriever.Headers,
			Retries:       ar.Retriever.Retries,
		})
		if err != nil {
			log.Fatalf("Failed to create retriever client: %v", err)
		}
		ret = r
		logger.Infof("Retriever: %s (collection %s, top_k %d)", ar.Retriever.URL, ar.Retriever.Collection, r.TopK())
	} else {
		logger.Warnf("Retriever URL not configured; context term will be degraded")
	}

	svc, err := triage.NewService(triage.Config{
		ClassifyTimeout:  ar.Triage.ClassifyTimeout,
		RetrieveTimeout:  ar.Triage.RetrieveTimeout,
		EnrichTimeout:    ar.Triage.EnrichTimeout,
		TopK:             ar.Retriever.TopK,
		BatchConcurrency: ar.Triage.BatchConcurrency,
	}, buildScorer(cfg), features.NewNormalizer(features.CICIDS2017()), cls, ret)
	if err != nil {
		log.Fatalf("Failed to create triage service: %v", err)
	}

	if ar.Enricher.Enabled {
		e, err := enricher.New(enricher.Config{
			URL:            ar.Enricher.URL,
			PrimaryModel:   ar.Enricher.PrimaryModel,
			FallbackModels: ar.Enricher.FallbackModels,
			Timeout:        ar.Enricher.Timeout,
			Temperature:    ar.Enricher.Temperature,
			MaxTokens:      ar.Enricher.MaxTokens,
			Retries:        ar.Enricher.Retries,
		})
		if err != nil {
			log.Fatalf("Failed to create enricher client: %v", err)
		}
		svc.SetEnricher(e)
		logger.Infof("Enrichment enabled: %s (%s)", ar.Enricher.URL, ar.Enricher.PrimaryModel)
	}
	svc.SetMetrics(m)
	return svc
}

func buildParser(cfg *config.Config) *transform.Parser {
	parser, err := transform.NewParser(cfg.AlertRank.Input.Format)
	if err != nil {
		log.Fatalf("Failed to create alert parser: %v", err)
	}
	return parser
}

func buildWriter(cfg *config.Config) pipeline.AlertWriter {
	out := cfg.AlertRank.Output
	switch out.Mode {
	case "file":
		w, err := alertjson.NewWriter(alertjson.Config{
			Path:     out.File.Path,
			Append:   out.File.Append,
			MinScore: out.MinScore,
		})
		if err != nil {
			logger.Errorf("Failed to create alert file writer: %v", err)
			log.Fatalf("Failed to create alert file writer: %v", err)
		}
		logger.Infof("Output mode: file (%s)", out.File.Path)
		return w
	case "http":
		w, err := alerthttp.NewWriter(alerthttp.Config{
			URL:      out.HTTP.URL,
			Timeout:  out.HTTP.Timeout,
			Headers:  out.HTTP.Headers,
			MinScore: out.MinScore,
		})
		if err != nil {
			logger.Errorf("Failed to create alert HTTP writer: %v", err)
			log.Fatalf("Failed to create alert HTTP writer: %v", err)
		}
		logger.Infof("Output mode: http (%s)", out.HTTP.URL)
		return w
	case "clickhouse":
		w, err := alertclickhouse.NewWriter(alertclickhouse.Config{
			URL:      out.ClickHouse.URL,
			Database: out.ClickHouse.Database,
			Table:    out.ClickHouse.Table,
			Username: out.ClickHouse.Username,
			Password: out.ClickHouse.Password,
			Timeout:  out.ClickHouse.Timeout,
			Headers:  out.ClickHouse.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create alert ClickHouse writer: %v", err)
			log.Fatalf("Failed to create alert ClickHouse writer: %v", err)
		}
		logger.Infof("Output mode: clickhouse (%s/%s.%s)", out.ClickHouse.URL, out.ClickHouse.Database, out.ClickHouse.Table)
		return w
	case "nats":
		w, err := alertnats.NewWriter(alertnats.Config{
			URL:           out.NATS.URL,
			SubjectPrefix: out.NATS.SubjectPrefix,
			FlushTimeout:  out.NATS.FlushTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create alert NATS writer: %v", err)
			log.Fatalf("Failed to create alert NATS writer: %v", err)
		}
		logger.Infof("Output mode: nats (%s)", out.NATS.URL)
		return w
	default:
		log.Fatalf("Unknown output mode: %s", out.Mode)
	}
	return nil
}

func buildStore(cfg *config.Config) *store.RedisStore {
	sc := cfg.AlertRank.Store.Redis
	rs, err := store.NewRedisStore(store.RedisConfig{
		Addr:       sc.Addr,
		Password:   sc.Password,
		DB:         sc.DB,
		KeyPrefix:  sc.KeyPrefix,
		TTL:        sc.TTL,
		MaxEntries: sc.MaxEntries,
	})
	if err != nil {
		logger.Errorf("Failed to connect ranked store: %v", err)
		log.Fatalf("Failed to connect ranked store: %v", err)
	}
	logger.Infof("Ranked store: redis %s (prefix %s)", sc.Addr, sc.KeyPrefix)
	return rs
}
