package wazuh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"alertrank/internal/logger"
	"alertrank/pkg/models"
)

// Parse converts a Wazuh alert (alerts.json line) into an Alert.
func Parse(data []byte) (*models.Alert, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSchemaMismatch, err)
	}
	return FromMap(raw)
}

// FromMap converts a decoded Wazuh alert.
func FromMap(raw map[string]interface{}) (*models.Alert, error) {
	if _, ok := getPath(raw, "rule"); !ok {
		return nil, fmt.Errorf("%w: wazuh alert has no rule", models.ErrSchemaMismatch)
	}
	level, ok := getInt(raw, "rule.level")
	if !ok {
		return nil, fmt.Errorf("%w: wazuh rule.level missing or not numeric", models.ErrSchemaMismatch)
	}
	sev, err := SeverityFromLevel(level)
	if err != nil {
		return nil, err
	}

	alert := &models.Alert{
		AlertID:     getString(raw, "id", "_id"),
		Severity:    sev,
		RuleID:      getString(raw, "rule.id"),
		Description: getString(raw, "rule.description"),
		Host:        getString(raw, "agent.name", "manager.name"),
		Source:      endpoint(getString(raw, "data.srcip", "data.src_ip"), getString(raw, "data.srcport", "data.src_port")),
		Destination: endpoint(getString(raw, "data.dstip", "data.dest_ip"), getString(raw, "data.dstport", "data.dest_port")),
		Techniques:  getStrings(raw, "rule.mitre.id"),
	}

	ts := getString(raw, "timestamp", "@timestamp")
	if t, ok := parseTimestamp(ts); ok {
		alert.Timestamp = t
	} else {
		return nil, fmt.Errorf("%w: wazuh timestamp %q", models.ErrSchemaMismatch, ts)
	}

	if v, ok := getPath(raw, "data.flow"); ok {
		switch flow := v.(type) {
		case map[string]interface{}:
			alert.Features = flow
		case []interface{}:
			alert.Features = map[string]interface{}{"features": flow}
		}
	}
	if alert.Features == nil {
		logger.Debugf("wazuh alert %s (rule %s) carries no flow features", alert.AlertID, alert.RuleID)
	}
	return alert, nil
}

// SeverityFromLevel maps a Wazuh rule level (0-15) onto the severity scale.
func SeverityFromLevel(level int) (models.Severity, error) {
	switch {
	case level < 0 || level > 15:
		return "", fmt.Errorf("%w: wazuh rule level %d", models.ErrUnknownSeverity, level)
	case level <= 3:
		return models.SeverityLow, nil
	case level <= 7:
		return models.SeverityMedium, nil
	case level <= 11:
		return models.SeverityHigh, nil
	default:
		return models.SeverityCritical, nil
	}
}

func endpoint(ip, port string) string {
	if ip == "" {
		return ""
	}
	if port == "" {
		return ip
	}
	return net.JoinHostPort(ip, port)
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case string:
				return val
			case json.Number:
				return val.String()
			case float64:
				return strconv.FormatFloat(val, 'f', -1, 64)
			case int:
				return strconv.Itoa(val)
			}
		}
	}
	return ""
}

func getInt(root map[string]interface{}, paths ...string) (int, bool) {
	for _, path := range paths {
		if v, ok := getPath(root, path); ok {
			switch val := v.(type) {
			case int:
				return val, true
			case float64:
				return int(val), true
			case json.Number:
				if n, err := val.Int64(); err == nil {
					return int(n), true
				}
			case string:
				if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func getStrings(root map[string]interface{}, path string) []string {
	v, ok := getPath(root, path)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
