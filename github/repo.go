package github

import (
	"fmt"
	"net/url"
	"strings"
)

// Repo identifies a repository by its web URL.
type Repo struct {
	Owner string
	Name  string
	// URL is the repository web URL without a trailing slash or ".git".
	URL string
}

// ParseRepoURL accepts https://github.com/<owner>/<repo>[.git][/].
func ParseRepoURL(raw string) (Repo, error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(strings.TrimSpace(raw), "/"), ".git")
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}
	return Repo{
		Owner: parts[len(parts)-2],
		Name:  parts[len(parts)-1],
		URL:   trimmed,
	}, nil
}

// ConvertURLToName turns a repository URL into an index name: the path
// segments joined with "-", e.g. https://github.com/acme/widgets.git -> acme-widgets.
func ConvertURLToName(raw string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), ".git")
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Split(strings.Trim(u.Path, "/"), "/"), "-")
}

// ZipURL is the archive of branch as served by the GitHub web host.
func (r Repo) ZipURL(branch string) string {
	return r.URL + "/archive/refs/heads/" + branch + ".zip"
}

func (r Repo) IndexName() string {
	return ConvertURLToName(r.URL)
}
