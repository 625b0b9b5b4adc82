package worker

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ProgressPrefix marks a structured progress line on worker stdout.
const ProgressPrefix = "::progress::v1 "

// legacyProgress matches "[current/total] pct%" lines from older workers.
var legacyProgress = regexp.MustCompile(`^\[(\d+)/(\d+)\]\s+(\d+)%`)

// Update is a progress report parsed from one worker output line.
type Update struct {
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
	// HasPercent is false for plain status messages.
	HasPercent bool `json:"-"`
}

// FormatProgress renders u as a structured progress line (without newline).
func FormatProgress(u Update) string {
	data, err := json.Marshal(u)
	if err != nil {
		return ProgressPrefix + `{"percent":` + strconv.Itoa(u.Percent) + `}`
	}
	return ProgressPrefix + string(data)
}

// ParseLine extracts a progress update from a worker output line.
// Structured lines take precedence, then the legacy bracket form, then any
// line mentioning "Processing" as a plain message. Other lines are not updates.
func ParseLine(line string) (Update, bool) {
	line = strings.TrimRight(line, "\r\n")

	if rest, ok := strings.CutPrefix(line, ProgressPrefix); ok {
		var u Update
		if err := json.Unmarshal([]byte(rest), &u); err == nil {
			if u.Percent == 0 && u.Total > 0 {
				u.Percent = u.Current * 100 / u.Total
			}
			u.HasPercent = true
			return u, true
		}
	}

	if m := legacyProgress.FindStringSubmatch(line); m != nil {
		current, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		pct, _ := strconv.Atoi(m[3])
		msg := strings.TrimSpace(line[len(m[0]):])
		msg = strings.TrimSpace(strings.TrimPrefix(msg, "|"))
		return Update{Current: current, Total: total, Percent: pct, Message: msg, HasPercent: true}, true
	}

	if strings.Contains(line, "Processing") {
		return Update{Message: strings.TrimSpace(line)}, true
	}
	return Update{}, false
}
