package types

import (
	"encoding/json"
	"time"
)

// Repository holds the subset of upstream repository fields used for ranked
// views.
type Repository struct {
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	HTMLURL         string    `json:"html_url"`
	ForksCount      int       `json:"forks_count"`
	StargazersCount int       `json:"stargazers_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RepositorySnapshot is the value cached for the REPOSITORIES metric.
//
// Raw is the upstream response reflected verbatim (all pages joined into one
// JSON array). Repositories is the decoded form of the same response, in
// upstream order, used to build ranked views.
type RepositorySnapshot struct {
	Raw          json.RawMessage `json:"raw"`
	Repositories []Repository    `json:"repositories"`
}
