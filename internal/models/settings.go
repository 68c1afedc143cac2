package models

import (
	"fmt"
	"strings"
)

// Sync provider names accepted in settings.
const (
	ProviderLocal     = "local"
	ProviderCloudStub = "cloud_stub"
)

// DefaultTags is the initial tag vocabulary.
var DefaultTags = []string{"work", "personal", "research", "bugfix"}

type DevFlags struct {
	SyncEnabled            bool `json:"sync_enabled"`
	SecurityEnabled        bool `json:"security_enabled"`
	RestoreProfilesEnabled bool `json:"restore_profiles_enabled"`
	AdvancedSearchEnabled  bool `json:"advanced_search_enabled"`
}

type SyncSettings struct {
	Provider        string `json:"provider"`
	LocalRoot       string `json:"local_root"`
	AutoIntervalMin int    `json:"auto_interval_min"`
	LastCursor      string `json:"last_cursor"`
}

// RestoreOptions selects what a restore reopens.
type RestoreOptions struct {
	OpenFolder      bool `json:"open_folder"`
	OpenTerminal    bool `json:"open_terminal"`
	OpenVSCode      bool `json:"open_vscode"`
	OpenRunningApps bool `json:"open_running_apps"`
	ShowChecklist   bool `json:"show_checklist"`
}

// RestoreProfile is a named RestoreOptions preset.
type RestoreProfile struct {
	Name string `json:"name"`
	RestoreOptions
	Default bool `json:"default"`
}

// SecuritySettings toggles field encryption, which runs outside the store.
type SecuritySettings struct {
	DPAPIEnabled bool `json:"dpapi_enabled"`
}

type SearchSettings struct {
	EnableFieldQuery bool `json:"enable_field_query"`
}

// Settings is the singleton settings.json document.
type Settings struct {
	SchemaVersion       int              `json:"schema_version"`
	DefaultRoot         string           `json:"default_root"`
	RecentFilesLimit    int              `json:"recent_files_limit"`
	Tags                []string         `json:"tags"`
	DevFlags            DevFlags         `json:"dev_flags"`
	Sync                SyncSettings     `json:"sync"`
	Restore             RestoreOptions   `json:"restore"`
	RestoreProfiles     []RestoreProfile `json:"restore_profiles"`
	Security            SecuritySettings `json:"security"`
	Search              SearchSettings   `json:"search"`
	CaptureEnforceTodos bool             `json:"capture_enforce_todos"`
}

// DefaultSettings returns first-run settings.
func DefaultSettings() *Settings {
	return &Settings{
		SchemaVersion:    SettingsSchemaVersion,
		RecentFilesLimit: 30,
		Tags:             append([]string(nil), DefaultTags...),
		Sync:             SyncSettings{Provider: ProviderLocal},
		Restore: RestoreOptions{
			OpenFolder:      true,
			OpenTerminal:    true,
			OpenVSCode:      true,
			OpenRunningApps: true,
			ShowChecklist:   true,
		},
		RestoreProfiles:     []RestoreProfile{},
		Search:              SearchSettings{EnableFieldQuery: true},
		CaptureEnforceTodos: true,
	}
}

// Normalize repairs profile names and defaults: names are trimmed and
// unique, and at most one profile is the default.
func (s *Settings) Normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SettingsSchemaVersion
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	s.Tags = dedupe(s.Tags)
	if s.Sync.Provider == "" {
		s.Sync.Provider = ProviderLocal
	}
	if s.Sync.AutoIntervalMin < 0 {
		s.Sync.AutoIntervalMin = 0
	}
	if s.RecentFilesLimit <= 0 {
		s.RecentFilesLimit = 30
	}

	profiles := make([]RestoreProfile, 0, len(s.RestoreProfiles))
	seen := make(map[string]bool)
	hasDefault := false
	for _, p := range s.RestoreProfiles {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" || seen[strings.ToLower(p.Name)] {
			continue
		}
		seen[strings.ToLower(p.Name)] = true
		if p.Default {
			if hasDefault {
				p.Default = false
			}
			hasDefault = true
		}
		profiles = append(profiles, p)
	}
	s.RestoreProfiles = profiles
}

// Validate rejects settings the sync engine cannot act on.
func (s *Settings) Validate() error {
	switch s.Sync.Provider {
	case ProviderLocal, ProviderCloudStub:
	default:
		return fmt.Errorf("unknown sync provider %q", s.Sync.Provider)
	}
	return nil
}

// Profile returns the named restore profile, or the default profile when
// name is empty. The second result is false when nothing matched.
func (s *Settings) Profile(name string) (RestoreProfile, bool) {
	for _, p := range s.RestoreProfiles {
		if name == "" && p.Default {
			return p, true
		}
		if name != "" && strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return RestoreProfile{}, false
}
