// Package descriptor persists the template.json record of an installed plugin
// and extracts plugin metadata out of a downloaded source tree.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// FileName is the descriptor persisted at the plugin root. It is the
	// single source of truth for what is installed.
	FileName = "template.json"
	// FunctionsFileName is the well-known file shipped at the source-tree
	// root: metadata variable assignments plus optional lifecycle hook
	// functions.
	FunctionsFileName = "plugin.functions"
)

// ErrMalformed marks a source tree whose descriptor cannot provide the
// required fields.
var ErrMalformed = errors.New("malformed descriptor")

type Descriptor struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Tag         string    `json:"tag"`
	RepoURL     string    `json:"repoUrl"`
	IsDriver    bool      `json:"isDriver,omitempty"`
	HasSettings bool      `json:"hasSettings,omitempty"`
	Author      string    `json:"author,omitempty"`
	Homepage    string    `json:"homepage,omitempty"`
	Support     string    `json:"support,omitempty"`
	InstalledAt time.Time `json:"installedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Load reads the descriptor of an installed plugin. A missing descriptor
// returns os.ErrNotExist.
func Load(pluginDir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(pluginDir, FileName))
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return &d, nil
}

// Save writes the descriptor atomically next to the plugin's version
// directory.
func Save(pluginDir string, d *Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(pluginDir, FileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(pluginDir, FileName))
}

// assignRe matches shell variable assignments like plugin_name="sonarr".
var assignRe = regexp.MustCompile(`^\s*(plugin_[a-z_]+)=("([^"]*)"|'([^']*)'|(\S*))\s*$`)

// Extract pulls the labeled metadata fields out of the plugin.functions file
// at the root of an extracted source tree. Only the known fields are read,
// anything else in the file is ignored. The version defaults to fallbackTag
// when the file does not declare one.
func Extract(sourceRoot, fallbackTag string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(sourceRoot, FunctionsFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		m := assignRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := m[3]
		if value == "" {
			value = m[4]
		}
		if value == "" {
			value = m[5]
		}
		fields[m[1]] = value
	}

	if fields["plugin_name"] == "" {
		return nil, fmt.Errorf("%w: plugin_name is missing in %s", ErrMalformed, FunctionsFileName)
	}

	d := &Descriptor{
		Name:        fields["plugin_name"],
		DisplayName: fields["plugin_longname"],
		Description: fields["plugin_description"],
		Version:     fields["plugin_version"],
		Author:      fields["plugin_author"],
		Homepage:    fields["plugin_homepage"],
		Support:     fields["plugin_support"],
		IsDriver:    isTrue(fields["plugin_driver"]),
		HasSettings: isTrue(fields["plugin_settings"]),
	}
	if d.Version == "" {
		d.Version = fallbackTag
	}
	return d, nil
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
