package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Section is one [name] block of a Config.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{
		name:     name,
		options:  opts,
		accessed: make(map[string]struct{}),
	}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

func (s *Section) markAccessed(key string) {
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
}

// lookup returns the raw value of option and marks it read. A missing
// option with a fallback is marked read as well.
func (s *Section) lookup(option string, hasFallback bool) (string, bool, error) {
	key := strings.ToLower(option)
	v, ok := s.options[key]
	if ok || hasFallback {
		s.markAccessed(key)
	}
	if !ok && !hasFallback {
		return "", false, ErrMissingOption(s.name, option)
	}
	return v, ok, nil
}

// GetUnusedOptions returns the options that were never read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// Get returns a string option.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return "", err
	}
	if !ok {
		return fallback[0], nil
	}
	return v, nil
}

// GetInt returns an integer option.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
	if err != nil {
		return 0, ErrInvalidValue(s.name, option, v, "integer")
	}
	return int(i), nil
}

// GetIntWithBounds returns an integer option within [minVal, maxVal].
func (s *Section) GetIntWithBounds(option string, minVal, maxVal int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < minVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have minimum of "+strconv.Itoa(minVal))
	}
	if v > maxVal {
		return 0, ErrOutOfRange(s.name, option, float64(v), "must have maximum of "+strconv.Itoa(maxVal))
	}
	return v, nil
}

// GetDuration returns a duration option. Plain numbers are milliseconds;
// anything else is parsed with time.ParseDuration.
func (s *Section) GetDuration(option string, fallback ...time.Duration) (time.Duration, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback[0], nil
	}
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseUint(v, 10, 32); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, ErrInvalidValue(s.name, option, v, "duration")
	}
	return d, nil
}

// GetBool returns a boolean option.
// Accepts: 1, true, yes, on (true) and 0, false, no, off (false).
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok, err := s.lookup(option, len(fallback) > 0)
	if err != nil {
		return false, err
	}
	if !ok {
		return fallback[0], nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, ErrInvalidValue(s.name, option, v, "boolean (true/false/yes/no/on/off/1/0)")
}

// GetChoice returns a string option that must be one of choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", ErrInvalidChoice(s.name, option, v, choices)
}
