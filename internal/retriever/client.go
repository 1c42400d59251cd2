package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"alertrank/internal/httpjson"
	"alertrank/internal/knowledge"
	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

const (
	DefaultTopK       = 3
	MaxTopK           = 10
	DefaultCollection = "mitre_attack"
)

// Config configures the retrieval client.
type Config struct {
	URL           string
	Collection    string
	TopK          int
	MinSimilarity float64
	Timeout       time.Duration
	CacheSize     int
	Headers       map[string]string
	Retries       int
}

// Client queries the external semantic-search service.
type Client struct {
	http          *httpjson.Client
	collection    string
	topK          int
	minSimilarity float64
	timeout       time.Duration
	cache         *lru.Cache[string, []models.KnowledgeMatch]
}

type retrieveRequest struct {
	Query         string  `json:"query"`
	Collection    string  `json:"collection"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

type retrieveResult struct {
	Document        string                 `json:"document"`
	Metadata        map[string]interface{} `json:"metadata"`
	SimilarityScore float64                `json:"similarity_score"`
}

type retrieveResponse struct {
	Query        string           `json:"query"`
	Results      []retrieveResult `json:"results"`
	TotalResults int              `json:"total_results"`
}

// New creates a retrieval client. A CacheSize of zero disables caching.
func New(cfg Config, opts ...httpjson.Option) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("retriever url is required")
	}
	if cfg.MinSimilarity < 0 || cfg.MinSimilarity > 1 {
		return nil, fmt.Errorf("retriever min_similarity %v outside [0,1]", cfg.MinSimilarity)
	}
	c := &Client{
		collection:    cfg.Collection,
		topK:          clampK(cfg.TopK),
		minSimilarity: cfg.MinSimilarity,
		timeout:       cfg.Timeout,
	}
	if c.collection == "" {
		c.collection = DefaultCollection
	}
	if c.timeout <= 0 {
		c.timeout = 3 * time.Second
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []models.KnowledgeMatch](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("retriever cache: %w", err)
		}
		c.cache = cache
	}

	base := []httpjson.Option{
		httpjson.WithTimeout(c.timeout),
		httpjson.WithHeaders(cfg.Headers),
		httpjson.WithRetries(cfg.Retries),
	}
	c.http = httpjson.New(cfg.URL, append(base, opts...)...)
	return c, nil
}

// TopK returns the default number of matches requested.
func (c *Client) TopK() int {
	return c.topK
}

// Retrieve returns at most k matches for query with similarity at or above
// the configured threshold, most similar first. k <= 0 uses the configured
// default; k is capped at MaxTopK. On failure the match set is empty and the
// error wraps ErrRetrievalUnavailable.
func (c *Client) Retrieve(ctx context.Context, query string, k int) ([]models.KnowledgeMatch, error) {
	if k <= 0 {
		k = c.topK
	}
	k = clampK(k)
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.KnowledgeMatch{}, nil
	}

	key := strconv.Itoa(k) + "\x00" + query
	if c.cache != nil {
		if hit, ok := c.cache.Get(key); ok {
			return append([]models.KnowledgeMatch(nil), hit...), nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp retrieveResponse
	req := retrieveRequest{
		Query:         query,
		Collection:    c.collection,
		TopK:          k,
		MinSimilarity: c.minSimilarity,
	}
	if err := c.http.PostJSON(callCtx, "/retrieve", req, &resp); err != nil {
		return []models.KnowledgeMatch{}, fmt.Errorf("%w: %v", models.ErrRetrievalUnavailable, err)
	}

	matches := c.selectMatches(resp.Results, k)
	if c.cache != nil {
		c.cache.Add(key, matches)
	}
	return append([]models.KnowledgeMatch(nil), matches...), nil
}

func (c *Client) selectMatches(results []retrieveResult, k int) []models.KnowledgeMatch {
	matches := make([]models.KnowledgeMatch, 0, len(results))
	for i, r := range results {
		if r.SimilarityScore < 0 || r.SimilarityScore > 1 {
			logger.Debugf("retriever dropped result %d with similarity %v", i, r.SimilarityScore)
			continue
		}
		if r.SimilarityScore < c.minSimilarity {
			continue
		}
		matches = append(matches, toMatch(r, i))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func toMatch(r retrieveResult, idx int) models.KnowledgeMatch {
	m := models.KnowledgeMatch{
		Text:       r.Document,
		Similarity: r.SimilarityScore,
	}
	m.TechniqueID = knowledge.NormalizeTechniqueID(metaString(r.Metadata, "technique_id"))
	if m.TechniqueID == "" {
		if ids := knowledge.ExtractTechniqueIDs(r.Document); len(ids) > 0 {
			m.TechniqueID = ids[0]
		}
	}
	m.Tactic = metaString(r.Metadata, "tactic")

	switch {
	case metaString(r.Metadata, "id") != "":
		m.SourceID = metaString(r.Metadata, "id")
	case m.TechniqueID != "":
		m.SourceID = m.TechniqueID
	default:
		m.SourceID = "doc_" + strconv.Itoa(idx)
	}
	return m
}

func metaString(meta map[string]interface{}, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Health checks the service /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.http.GetJSON(callCtx, "/health", &resp); err != nil {
		return fmt.Errorf("%w: %v", models.ErrRetrievalUnavailable, err)
	}
	if resp.Status != "" && !strings.EqualFold(resp.Status, "healthy") {
		return fmt.Errorf("%w: status %s", models.ErrRetrievalUnavailable, resp.Status)
	}
	return nil
}

func clampK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// BuildQuery composes the search query for an alert from its description,
// rule and declared techniques.
func BuildQuery(alert *models.Alert) string {
	if alert == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if d := strings.TrimSpace(alert.Description); d != "" {
		parts = append(parts, d)
	}
	if alert.RuleID != "" {
		parts = append(parts, "rule "+alert.RuleID)
	}
	if len(alert.Techniques) > 0 {
		parts = append(parts, "techniques: "+strings.Join(alert.Techniques, ", "))
	}
	return strings.Join(parts, " | ")
}
