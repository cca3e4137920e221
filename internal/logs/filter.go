package logs

import (
	"encoding/json"
	"strings"

	"cosflow/internal/logging"
)

// Filter narrows log lines. The zero value matches everything.
type Filter struct {
	GroupID string
	Level   string
}

// Match reports whether line passes the filter. JSON records are matched on
// their fields; console records fall back to substring checks.
func (f Filter) Match(line string) bool {
	if f.GroupID == "" && f.Level == "" {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err == nil {
			return f.matchRecord(record)
		}
	}
	if f.GroupID != "" && !strings.Contains(line, f.GroupID) {
		return false
	}
	if f.Level != "" && !strings.Contains(strings.ToUpper(line), " "+strings.ToUpper(f.Level)+" ") {
		return false
	}
	return true
}

func (f Filter) matchRecord(record map[string]any) bool {
	if f.GroupID != "" {
		if id, _ := record[logging.FieldGroupID].(string); id != f.GroupID {
			return false
		}
	}
	if f.Level != "" {
		if level, _ := record["level"].(string); !strings.EqualFold(level, f.Level) {
			return false
		}
	}
	return true
}
