package config

import "strings"

// Pin is the interrupt pin of the hub.
type Pin struct {
	Name   string // gpio name as registered with periph, e.g. "GPIO17"
	Invert bool   // active high instead of active low (! prefix)
	Pullup bool   // enable the internal pull-up (^ prefix)
}

// ParsePin parses "[^][!]name".
func ParsePin(desc string) (Pin, error) {
	d := strings.TrimSpace(desc)
	var p Pin
	if rest, ok := strings.CutPrefix(d, "^"); ok {
		p.Pullup = true
		d = strings.TrimSpace(rest)
	}
	if rest, ok := strings.CutPrefix(d, "!"); ok {
		p.Invert = true
		d = strings.TrimSpace(rest)
	}
	if d == "" {
		return Pin{}, NewConfigError("", "", "empty pin name in specification: "+desc)
	}
	if strings.ContainsAny(d, "^!: \t") {
		return Pin{}, NewConfigError("", "", "invalid characters in pin name: "+desc)
	}
	p.Name = d
	return p, nil
}

// GetPinOptional returns the pin in option, or nil if it is not set.
func (s *Section) GetPinOptional(option string) (*Pin, error) {
	if !s.HasOption(option) {
		return nil, nil
	}
	v, err := s.Get(option)
	if err != nil {
		return nil, err
	}
	pin, err := ParsePin(v)
	if err != nil {
		return nil, WrapError(s.name, option, err)
	}
	return &pin, nil
}
