// Package api contains the wire types exchanged between the nasd daemon and
// its clients.
package api

import "time"

// InstallRequest asks the daemon to install one plugin release.
type InstallRequest struct {
	RepoURL string `json:"repoUrl"`
	Tag     string `json:"tag"`
}

// UpdateRequest asks the daemon to update one plugin, or every plugin with a
// pending update when Name is empty.
type UpdateRequest struct {
	Name string `json:"name,omitempty"`
}

// OperationAck is returned once a lifecycle operation has been accepted.
// Completion is observed through the notification channel, not this response.
type OperationAck struct {
	OperationID string `json:"operationId"`
	Accepted    bool   `json:"accepted"`
}

// PluginInfo is the installed-plugin record served by the plugin listing.
type PluginInfo struct {
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

// UpdateStatus is one row of the installed-vs-available comparison table.
type UpdateStatus struct {
	Name            string `json:"name"`
	InstalledTag    string `json:"installedTag"`
	AvailableTag    string `json:"availableTag"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// Release is the client-facing view of one remote release.
type Release struct {
	Tag           string    `json:"tag"`
	Name          string    `json:"name,omitempty"`
	PublishedAt   time.Time `json:"publishedAt"`
	Prerelease    bool      `json:"prerelease"`
	Latest        bool      `json:"latest"`
	Architectures []string  `json:"architectures,omitempty"`
}

// ReleaseIndex is the cached release listing of one source repository.
type ReleaseIndex struct {
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	FetchedAt time.Time `json:"fetchedAt"`
	Releases  []Release `json:"releases"`
}
