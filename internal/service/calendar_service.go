package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/pkg/config"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

const calendarCacheKey = "calendar:public:feed"

type calendarCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CalendarService serves the public lesson calendar from an external ICS
// feed, with a Redis-backed cache in front of the upstream fetch.
type CalendarService struct {
	cache  calendarCache
	client *http.Client
	logger *zap.Logger
	cfg    config.CalendarConfig
}

// NewCalendarService constructs the service.
func NewCalendarService(cache calendarCache, logger *zap.Logger, cfg config.CalendarConfig) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CalendarService{
		cache:  cache,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		cfg:    cfg,
	}
}

// PublicFeed returns the parsed upstream calendar. Cache hits skip the
// upstream entirely; a fetch failure after a cache miss surfaces as 502-ish
// internal error rather than a stale payload.
func (s *CalendarService) PublicFeed(ctx context.Context) (*models.CalendarFeed, error) {
	var cached models.CalendarFeed
	if err := s.cache.Get(ctx, calendarCacheKey, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("calendar cache read failed", zap.Error(err))
	}

	if s.cfg.ICSFeedURL == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no calendar feed configured")
	}

	feed, err := s.fetch(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch calendar feed")
	}

	if err := s.cache.Set(ctx, calendarCacheKey, feed, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("calendar cache write failed", zap.Error(err))
	}
	return feed, nil
}

func (s *CalendarService) fetch(ctx context.Context) (*models.CalendarFeed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ICSFeedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar upstream returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return &models.CalendarFeed{Items: ParseICS(string(body))}, nil
}

// ParseICS extracts VEVENT blocks from an ICS document. Folded lines
// (continuations starting with a space or tab) are unfolded first, property
// parameters like DTSTART;TZID=... are ignored, and timestamps are
// normalised to RFC 3339 where the value parses.
func ParseICS(raw string) []models.CalendarEvent {
	lines := unfoldICS(raw)
	var events []models.CalendarEvent
	var current *models.CalendarEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			current = &models.CalendarEvent{}
		case line == "END:VEVENT":
			if current != nil {
				events = append(events, *current)
				current = nil
			}
		case current != nil:
			name, value, ok := splitICSProperty(line)
			if !ok {
				continue
			}
			switch name {
			case "SUMMARY":
				current.Summary = unescapeICS(value)
			case "LOCATION":
				current.Location = unescapeICS(value)
			case "DTSTART":
				current.Start = normalizeICSTime(value)
			case "DTEND":
				current.End = normalizeICSTime(value)
			}
		}
	}
	return events
}

func unfoldICS(raw string) []string {
	rawLines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var lines []string
	for _, line := range rawLines {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += strings.TrimLeft(line, " \t")
			continue
		}
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	return lines
}

func splitICSProperty(line string) (name, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	name = line[:idx]
	value = line[idx+1:]
	// Drop property parameters: DTSTART;TZID=Europe/Istanbul -> DTSTART.
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = name[:semi]
	}
	return strings.ToUpper(name), value, true
}

func unescapeICS(value string) string {
	replacer := strings.NewReplacer(`\n`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return replacer.Replace(value)
}

var icsTimeLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
}

func normalizeICSTime(value string) string {
	for _, layout := range icsTimeLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return value
}
