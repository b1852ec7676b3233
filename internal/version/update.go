package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	RepoOwner = "khanglvm"
	RepoName  = "session-memory-mcp"
	UpdateURL = "https://api.github.com/repos/" + RepoOwner + "/" + RepoName + "/releases/latest"

	// checkInterval is how long a cached answer is reused.
	checkInterval = 24 * time.Hour
)

// GitHubRelease represents a GitHub release API response.
type GitHubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// UpdateCache stores update check state.
type UpdateCache struct {
	LastUpdateCheck  time.Time `json:"lastUpdateCheck"`
	LastKnownVersion string    `json:"lastKnownVersion"`
	ReleaseURL       string    `json:"releaseUrl,omitempty"`
}

// Update describes the latest published release.
type Update struct {
	Latest string `json:"latest"`
	URL    string `json:"url,omitempty"`

	// Newer reports whether Latest is newer than the running version.
	Newer bool `json:"newer"`
}

// Checker asks GitHub for the latest release, caching the answer for a day.
type Checker struct {
	URL       string
	Client    *http.Client
	CachePath string
	Now       func() time.Time
}

// NewChecker returns a checker for the public release feed.
func NewChecker() *Checker {
	path, _ := getCachePath()
	return &Checker{
		URL:       UpdateURL,
		Client:    &http.Client{Timeout: 10 * time.Second},
		CachePath: path,
		Now:       time.Now,
	}
}

// Check returns the latest release compared with current. force skips the cache.
func (c *Checker) Check(ctx context.Context, current string, force bool) (*Update, error) {
	now := c.Now()
	if !force && c.CachePath != "" {
		if cache, err := loadUpdateCache(c.CachePath); err == nil && now.Sub(cache.LastUpdateCheck) < checkInterval {
			return newUpdate(cache.LastKnownVersion, cache.ReleaseURL, current), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check for updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var release GitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Strip 'v' prefix if present
	latest := strings.TrimPrefix(release.TagName, "v")

	if c.CachePath != "" {
		// A failed cache write only costs another request next time.
		_ = saveUpdateCache(c.CachePath, &UpdateCache{
			LastUpdateCheck:  now,
			LastKnownVersion: latest,
			ReleaseURL:       release.HTMLURL,
		})
	}
	return newUpdate(latest, release.HTMLURL, current), nil
}

func newUpdate(latest, url, current string) *Update {
	return &Update{Latest: latest, URL: url, Newer: IsNewer(latest, current)}
}

// IsNewer reports whether version a is newer than b. Development builds are
// never considered current, and unparsable versions are never newer.
func IsNewer(a, b string) bool {
	pa, ok := parseVersion(a)
	if !ok {
		return false
	}
	pb, ok := parseVersion(b)
	if !ok {
		return b == "dev"
	}
	for i := range pa {
		if pa[i] != pb[i] {
			return pa[i] > pb[i]
		}
	}
	return false
}

// parseVersion reads "1.2.3", "v1.2" or "1.2.3-rc1" as three numbers.
func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return out, false
	}
	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

func getCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".session-memory-mcp", "update-check.json"), nil
}

func loadUpdateCache(path string) (*UpdateCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache UpdateCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

func saveUpdateCache(path string, cache *UpdateCache) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
