package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PRRef identifies a GitHub pull request.
type PRRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// RepoID returns the owner/name form used as the repository key.
func (r PRRef) RepoID() string {
	return r.Owner + "/" + r.Repo
}

var prURLPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/pull/(\d+)(?:/.*)?$`)

// ParsePRURL parses https://github.com/<owner>/<repo>/pull/<n>, allowing trailing path segments.
func ParsePRURL(url string) (PRRef, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return PRRef{}, fmt.Errorf("invalid GitHub PR URL: %s", url)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return PRRef{}, fmt.Errorf("invalid GitHub PR URL: %s: %w", url, err)
	}
	return PRRef{Owner: m[1], Repo: m[2], Number: n}, nil
}
