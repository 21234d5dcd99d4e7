package frames

import (
	"os"
	"regexp"
	"time"

	"birdwatcher/internal/logging"
	"birdwatcher/internal/media/ffprobe"
)

// Recording time sources, in resolution order.
const (
	SourceMetadata = "metadata"
	SourceFilename = "filename"
	SourceFileTime = "file_ctime"
	SourceFallback = "fallback"
)

var dateTags = []string{
	"creation_time",
	"date",
	"com.apple.quicktime.creationdate",
	"creation-time",
	"DATE",
	"CREATION_TIME",
}

var tagLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006:01:02 15:04:05",
	"2006-01-02",
}

var filenameStamp = regexp.MustCompile(`(\d{8})_(\d{6})`)

func (e *Extractor) resolveRecordedAt(result ffprobe.Result, path, filename string) (time.Time, string) {
	if at, ok := recordedAtFromTags(result); ok {
		return at, SourceMetadata
	}
	if at, ok := ParseFilenameTimestamp(filename); ok {
		return at, SourceFilename
	}
	if info, err := os.Stat(path); err == nil {
		return fileTime(path, info), SourceFileTime
	}
	logging.WarnWithContext(e.logger, "recording time unknown; using current time", "recorded_at_fallback",
		logging.String("path", path),
		logging.String(logging.FieldErrorHint, "embed creation_time metadata or name files YYYYMMDD_HHMMSS"),
		logging.String(logging.FieldImpact, "sighting times reflect processing time"),
	)
	return e.now(), SourceFallback
}

func recordedAtFromTags(result ffprobe.Result) (time.Time, bool) {
	sources := []map[string]string{result.Format.Tags}
	if stream, ok := result.VideoStream(); ok {
		sources = append(sources, stream.Tags)
	}
	for _, tags := range sources {
		for _, key := range dateTags {
			if at, ok := parseTagTime(tags[key]); ok {
				return at, true
			}
		}
	}
	return time.Time{}, false
}

// parseTagTime accepts the ISO-like layouts cameras write. Epoch and earlier
// values are treated as unset.
func parseTagTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range tagLayouts {
		at, err := time.Parse(layout, value)
		if err == nil && at.Unix() > 0 {
			return at, true
		}
	}
	return time.Time{}, false
}

// ParseFilenameTimestamp extracts a local YYYYMMDD_HHMMSS stamp from name.
func ParseFilenameTimestamp(name string) (time.Time, bool) {
	match := filenameStamp.FindStringSubmatch(name)
	if match == nil {
		return time.Time{}, false
	}
	at, err := time.ParseInLocation("20060102150405", match[1]+match[2], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
