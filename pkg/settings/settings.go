// Copyright 2024-2026 Aiku AI

// Package settings holds the operator-tunable bridge options and persists
// them to a YAML file next to the bridge config.
package settings

import (
	"fmt"
	"slices"
)

// NotificationMode selects how group messages are gated.
type NotificationMode string

const (
	ModeBlacklist NotificationMode = "black"
	ModeWhitelist NotificationMode = "white"
)

// Option names accepted by [Settings.SetOption].
const (
	OptionConfirmSends           = "confirm_sends"
	OptionAutoSwitch             = "auto_switch"
	OptionAcceptOfficialAccounts = "accept_official_accounts"
	OptionRelayOwnSends          = "relay_own_sends"
	OptionMediaCompression       = "media_compression"
	OptionWarnUnselected         = "warn_unselected"
)

// ListEntry is a group name on the black or white list. IDs are small
// integers so the operator can refer to an entry from a chat command.
type ListEntry struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Settings is the full option set. Values are copied in and out of [Store],
// so callers may mutate what they receive.
type Settings struct {
	NotificationMode       NotificationMode `yaml:"notification_mode"`
	ConfirmSends           bool             `yaml:"confirm_sends"`
	AutoSwitch             bool             `yaml:"auto_switch"`
	AcceptOfficialAccounts bool             `yaml:"accept_official_accounts"`
	RelayOwnSends          bool             `yaml:"relay_own_sends"`
	MediaCompression       bool             `yaml:"media_compression"`
	WarnUnselected         bool             `yaml:"warn_unselected"`
	Blacklist              []ListEntry      `yaml:"blacklist"`
	Whitelist              []ListEntry      `yaml:"whitelist"`
}

// Default returns the settings used when no settings file exists yet.
func Default() Settings {
	return Settings{
		NotificationMode:       ModeBlacklist,
		AutoSwitch:             true,
		AcceptOfficialAccounts: true,
		MediaCompression:       true,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Blacklist = slices.Clone(s.Blacklist)
	s.Whitelist = slices.Clone(s.Whitelist)
	return s
}

// OptionNames lists every boolean option in display order.
func OptionNames() []string {
	return []string{
		OptionConfirmSends,
		OptionAutoSwitch,
		OptionAcceptOfficialAccounts,
		OptionRelayOwnSends,
		OptionMediaCompression,
		OptionWarnUnselected,
	}
}

func (s *Settings) optionPtr(name string) *bool {
	switch name {
	case OptionConfirmSends:
		return &s.ConfirmSends
	case OptionAutoSwitch:
		return &s.AutoSwitch
	case OptionAcceptOfficialAccounts:
		return &s.AcceptOfficialAccounts
	case OptionRelayOwnSends:
		return &s.RelayOwnSends
	case OptionMediaCompression:
		return &s.MediaCompression
	case OptionWarnUnselected:
		return &s.WarnUnselected
	default:
		return nil
	}
}

// Option reports the value of a boolean option.
func (s *Settings) Option(name string) (bool, error) {
	ptr := s.optionPtr(name)
	if ptr == nil {
		return false, fmt.Errorf("unknown option %q", name)
	}
	return *ptr, nil
}

// SetOption sets a boolean option by name.
func (s *Settings) SetOption(name string, value bool) error {
	ptr := s.optionPtr(name)
	if ptr == nil {
		return fmt.Errorf("unknown option %q", name)
	}
	*ptr = value
	return nil
}

// SetMode switches the notification mode.
func (s *Settings) SetMode(mode NotificationMode) error {
	switch mode {
	case ModeBlacklist, ModeWhitelist:
		s.NotificationMode = mode
		return nil
	default:
		return fmt.Errorf("unknown notification mode %q", mode)
	}
}

func (s *Settings) list(mode NotificationMode) *[]ListEntry {
	if mode == ModeWhitelist {
		return &s.Whitelist
	}
	return &s.Blacklist
}

// AddToList appends a group name to the given list. Adding a name that is
// already present returns the existing entry and false.
func (s *Settings) AddToList(mode NotificationMode, name string) (ListEntry, bool) {
	list := s.list(mode)
	nextID := 1
	for _, entry := range *list {
		if entry.Name == name {
			return entry, false
		}
		if entry.ID >= nextID {
			nextID = entry.ID + 1
		}
	}
	entry := ListEntry{ID: nextID, Name: name}
	*list = append(*list, entry)
	return entry, true
}

// RemoveFromList drops the entry with the given ID.
func (s *Settings) RemoveFromList(mode NotificationMode, id int) bool {
	list := s.list(mode)
	before := len(*list)
	*list = slices.DeleteFunc(*list, func(e ListEntry) bool { return e.ID == id })
	return len(*list) != before
}

// ListContains reports whether name is on the given list.
func (s *Settings) ListContains(mode NotificationMode, name string) bool {
	return slices.ContainsFunc(*s.list(mode), func(e ListEntry) bool { return e.Name == name })
}
