// Package calendar computes legal due dates over jurisdiction business-day
// calendars. Holiday data is read-only and cached per calendar id.
package calendar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config controls weekend days and the holiday data directory.
type Config struct {
	Dir         string
	WeekendDays []int
}

// Service resolves jurisdiction calendars and adds business days.
type Service struct {
	dir     string
	weekend map[time.Weekday]bool
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string]holidaySet
}

// holidaySet holds holiday dates keyed by yyyy-mm-dd. A nil set means the
// calendar id has no holiday data loaded.
type holidaySet map[string]struct{}

type calendarFile struct {
	Jurisdiction string         `yaml:"jurisdiction"`
	Holidays     []holidayEntry `yaml:"holidays"`
}

type holidayEntry struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

// New builds a Service. Weekend defaults to Saturday/Sunday when the config
// names no days.
func New(cfg Config, logger *zap.Logger) *Service {
	weekend := make(map[time.Weekday]bool, 2)
	if len(cfg.WeekendDays) == 0 {
		weekend[time.Saturday] = true
		weekend[time.Sunday] = true
	}
	for _, d := range cfg.WeekendDays {
		if d >= 0 && d <= 6 {
			weekend[time.Weekday(d)] = true
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dir:     cfg.Dir,
		weekend: weekend,
		logger:  logger,
		cache:   make(map[string]holidaySet),
	}
}

// AddBusinessDays advances from start counting only business days in the
// given calendar. The start date itself is never counted: day one of the
// term is the first business day after start, and the due date is the last
// counted day. Terms of zero days fall due on the next business day.
//
// The returned bool reports whether holiday data was available for the
// calendar id; callers flag the publication when it was not.
func (s *Service) AddBusinessDays(start time.Time, days int, calendarID string) (time.Time, bool) {
	holidays, complete := s.resolve(calendarID)
	if days < 1 {
		days = 1
	}
	day := start
	counted := 0
	for counted < days {
		day = day.AddDate(0, 0, 1)
		if s.isBusinessDay(day, holidays) {
			counted++
		}
	}
	return day, complete
}

// IsBusinessDay reports whether the date counts toward a term in the
// given calendar.
func (s *Service) IsBusinessDay(day time.Time, calendarID string) bool {
	holidays, _ := s.resolve(calendarID)
	return s.isBusinessDay(day, holidays)
}

func (s *Service) isBusinessDay(day time.Time, holidays holidaySet) bool {
	if s.weekend[day.Weekday()] {
		return false
	}
	_, holiday := holidays[day.Format(time.DateOnly)]
	return !holiday
}

func (s *Service) resolve(calendarID string) (holidaySet, bool) {
	if calendarID == "" {
		return nil, false
	}
	s.mu.RLock()
	set, ok := s.cache[calendarID]
	s.mu.RUnlock()
	if ok {
		return set, set != nil
	}

	set, err := s.load(calendarID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("holiday calendar load failed",
				zap.String("calendar_id", calendarID),
				zap.Error(err),
			)
		}
		set = nil
	}
	s.mu.Lock()
	s.cache[calendarID] = set
	s.mu.Unlock()
	return set, set != nil
}

func (s *Service) load(calendarID string) (holidaySet, error) {
	path := filepath.Join(s.dir, calendarID+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar file: %w", err)
	}
	var file calendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse calendar file: %w", err)
	}
	set := make(holidaySet, len(file.Holidays))
	for _, h := range file.Holidays {
		if _, err := time.Parse(time.DateOnly, h.Date); err != nil {
			return nil, fmt.Errorf("calendar %s holiday %q: %w", calendarID, h.Date, err)
		}
		set[h.Date] = struct{}{}
	}
	return set, nil
}
