package logs

import (
	"encoding/json"
	"strconv"
	"strings"

	"birdwatcher/internal/logging"
)

// Filter selects log lines. The zero value matches everything.
type Filter struct {
	VideoID int64
}

// Match reports whether line belongs to the filter's video. JSON lines are
// decoded; console lines are matched on their key=value token.
func (f Filter) Match(line string) bool {
	if f.VideoID <= 0 {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			return false
		}
		value, ok := record[logging.FieldVideoID].(float64)
		return ok && int64(value) == f.VideoID
	}
	token := logging.FieldVideoID + "=" + strconv.FormatInt(f.VideoID, 10)
	for field := range strings.FieldsSeq(trimmed) {
		if field == token {
			return true
		}
	}
	return false
}
