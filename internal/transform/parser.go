package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"alertrank/internal/transform/native"
	"alertrank/internal/transform/wazuh"
	"alertrank/pkg/models"
)

// Supported input formats.
const (
	FormatAuto   = "auto"
	FormatNative = "native"
	FormatWazuh  = "wazuh"
)

// Parser converts raw payloads of the configured format into alerts.
type Parser struct {
	format string
	native *native.Parser
}

// NewParser returns a parser for format ("" means auto).
func NewParser(format string) (*Parser, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatAuto
	}
	switch format {
	case FormatAuto, FormatNative, FormatWazuh:
	default:
		return nil, fmt.Errorf("unsupported alert format: %s", format)
	}
	np, err := native.NewParser()
	if err != nil {
		return nil, err
	}
	return &Parser{format: format, native: np}, nil
}

// Parse converts one payload. In auto mode a payload carrying
// schema_version is native, one carrying a rule object is Wazuh.
func (p *Parser) Parse(data []byte) (*models.Alert, error) {
	switch p.format {
	case FormatNative:
		return p.native.Parse(data)
	case FormatWazuh:
		return wazuh.Parse(data)
	}

	var head struct {
		SchemaVersion *json.RawMessage `json:"schema_version"`
		Rule          *json.RawMessage `json:"rule"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSchemaMismatch, err)
	}
	switch {
	case head.SchemaVersion != nil:
		return p.native.Parse(data)
	case head.Rule != nil:
		return wazuh.Parse(data)
	default:
		return nil, fmt.Errorf("%w: payload is neither a native alert nor a wazuh alert", models.ErrSchemaMismatch)
	}
}
