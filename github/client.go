package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second
	// DownloadTimeout bounds a whole archive download.
	DownloadTimeout = 10 * time.Minute
	// ProactiveRate throttles API calls to roughly 4300 per hour.
	ProactiveRate = 1.2
)

// Client resolves repository metadata through the GitHub API and downloads
// branch archives from the web host.
type Client struct {
	logger  *slog.Logger
	gh      *gh.Client
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

// WithBaseURL points the API client at a different host (GitHub Enterprise, tests).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		if u, err := url.Parse(base); err == nil {
			c.gh.BaseURL = u
		}
	}
}

func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient builds a client. An empty token uses anonymous access.
func NewClient(ctx context.Context, token string, opts ...Option) *Client {
	httpClient := &http.Client{Timeout: DefaultTimeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = DefaultTimeout
	}

	c := &Client{
		logger:  slog.Default(),
		gh:      gh.NewClient(httpClient),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(ProactiveRate), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultBranch returns the default branch name of owner/repo.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	repository, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", wrapError(err, "get repo")
	}

	branch := repository.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrNoDefaultBranch, owner, repo)
	}
	return branch, nil
}

// Download writes the body of rawURL to dst and returns the number of bytes written.
// A partially written dst is removed on failure.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	// the archive can be much larger than a single API response
	client := *c.http
	client.Timeout = 0

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body)), URL: rawURL}
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	c.logger.Info("archive downloaded", "url", rawURL, "bytes", n)
	return n, nil
}

// DownloadDefaultBranch resolves the default branch of repo and downloads its zip
// archive into dir. The caller owns the returned file.
func (c *Client) DownloadDefaultBranch(ctx context.Context, repo Repo, dir string) (string, error) {
	branch, err := c.DefaultBranch(ctx, repo.Owner, repo.Name)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, repo.IndexName()+"-*.zip")
	if err != nil {
		return "", err
	}
	path := f.Name()
	f.Close()

	if _, err := c.Download(ctx, repo.ZipURL(branch), path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func wrapError(err error, operation string) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		apiErr := &APIError{StatusCode: ghErr.Response.StatusCode, Message: ghErr.Message}
		if ghErr.Response.Request != nil {
			apiErr.URL = ghErr.Response.Request.URL.String()
		}
		if apiErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrRepoNotFound, apiErr)
		}
		return apiErr
	}
	return fmt.Errorf("%s: %w", operation, err)
}
