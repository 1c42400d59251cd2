package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"alertrank/pkg/models"
)

// Record keys with a reserved meaning.
const (
	KeyFeatureCount = "feature_count"
	KeyFeatures     = "features"
)

// Schema is a fixed-width, ordered feature layout.
type Schema struct {
	Version string
	Names   []string
	index   map[string]int
}

// NewSchema builds a schema. Each name is also reachable by its snake_case alias.
func NewSchema(version string, names []string) *Schema {
	s := &Schema{
		Version: version,
		Names:   append([]string(nil), names...),
		index:   make(map[string]int, len(names)*2),
	}
	for i, name := range names {
		s.index[name] = i
		s.index[Alias(name)] = i
	}
	return s
}

// CICIDS2017 returns the 78-column flow schema.
func CICIDS2017() *Schema {
	return NewSchema("cicids2017", cicids2017Columns)
}

// Width is the vector length the classifier expects.
func (s *Schema) Width() int {
	return len(s.Names)
}

// Lookup returns the column position for a canonical name or alias.
func (s *Schema) Lookup(name string) (int, bool) {
	if i, ok := s.index[name]; ok {
		return i, true
	}
	i, ok := s.index[Alias(name)]
	return i, ok
}

// Alias converts a column name to snake_case ("Flow Bytes/s" -> "flow_bytes_s").
func Alias(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// Normalizer maps raw alert records to classifier input vectors.
type Normalizer struct {
	schema *Schema
}

// NewNormalizer creates a normalizer for schema.
func NewNormalizer(schema *Schema) *Normalizer {
	if schema == nil {
		schema = CICIDS2017()
	}
	return &Normalizer{schema: schema}
}

// Schema returns the layout used by the normalizer.
func (n *Normalizer) Schema() *Schema {
	return n.schema
}

// Normalize produces the fixed-length vector for record. Missing fields are
// zero and non-finite values are replaced with zero. A declared feature
// count or positional vector of the wrong width is a schema mismatch.
func (n *Normalizer) Normalize(record map[string]interface{}) ([]float64, error) {
	width := n.schema.Width()
	out := make([]float64, width)

	if raw, ok := record[KeyFeatureCount]; ok && raw != nil {
		declared, err := toFloat(raw)
		if err != nil || declared != math.Trunc(declared) {
			return nil, fmt.Errorf("%w: feature_count %v is not an integer", models.ErrSchemaMismatch, raw)
		}
		if int(declared) != width {
			return nil, fmt.Errorf("%w: declared %d features, schema %s expects %d", models.ErrSchemaMismatch, int(declared), n.schema.Version, width)
		}
	}

	if raw, ok := record[KeyFeatures]; ok && raw != nil {
		values, err := positional(raw)
		if err != nil {
			return nil, err
		}
		if len(values) != width {
			return nil, fmt.Errorf("%w: got %d positional features, schema %s expects %d", models.ErrSchemaMismatch, len(values), n.schema.Version, width)
		}
		for i, v := range values {
			f, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("%w: feature %d: %v", models.ErrSchemaMismatch, i, err)
			}
			out[i] = finite(f)
		}
	}

	for key, raw := range record {
		if key == KeyFeatureCount || key == KeyFeatures {
			continue
		}
		idx, ok := n.schema.Lookup(key)
		if !ok {
			continue
		}
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", models.ErrSchemaMismatch, key, err)
		}
		out[idx] = finite(f)
	}

	return out, nil
}

func positional(raw interface{}) ([]interface{}, error) {
	switch v := raw.(type) {
	case []interface{}:
		return v, nil
	case []float64:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: features must be an array, got %T", models.ErrSchemaMismatch, raw)
	}
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
				return f, nil
			}
			return 0, fmt.Errorf("not numeric: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}
