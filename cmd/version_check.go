package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrVersionCheckFailed = errors.New("version check failed")

// GitHubRelease is the subset of the latest-release API response we read
type GitHubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// VersionCheckResult contains the result of checking for updates
type VersionCheckResult struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	Error           error
}

// VersionCheckCache is the last answer from the release API
type VersionCheckCache struct {
	UpdateAvailable bool      `json:"update_available"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseURL      string    `json:"release_url"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	versionCheckTimeout = 5 * time.Second
	cacheExpiry         = 24 * time.Hour
)

// releasesURL is a variable so tests can point it at a local server
var releasesURL = "https://api.github.com/repos/airframesio/epias-extractor/releases/latest"

// checkForUpdates asks the release API for the latest version. Errors are
// reported in the result, never returned, so callers can ignore them.
func checkForUpdates(ctx context.Context, currentVersion string) VersionCheckResult {
	result := VersionCheckResult{CurrentVersion: currentVersion}

	// Development builds have nothing to compare against
	if currentVersion == "dev" || currentVersion == "" {
		return result
	}

	if cached := getVersionCheckCache(); cached != nil && time.Since(cached.Timestamp) < cacheExpiry {
		result.UpdateAvailable = cached.UpdateAvailable
		result.LatestVersion = cached.LatestVersion
		result.ReleaseURL = cached.ReleaseURL
		return result
	}

	release, err := fetchLatestRelease(ctx, currentVersion)
	if err != nil {
		result.Error = err
		return result
	}

	result.LatestVersion = strings.TrimPrefix(release.TagName, "v")
	result.ReleaseURL = release.HTMLURL
	result.UpdateAvailable = compareVersions(result.LatestVersion, strings.TrimPrefix(currentVersion, "v")) > 0

	saveVersionCheckCache(VersionCheckCache{
		UpdateAvailable: result.UpdateAvailable,
		LatestVersion:   result.LatestVersion,
		ReleaseURL:      result.ReleaseURL,
		Timestamp:       time.Now(),
	})
	return result
}

func fetchLatestRelease(ctx context.Context, currentVersion string) (*GitHubRelease, error) {
	client := &http.Client{Timeout: versionCheckTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	// GitHub rejects requests without a User-Agent
	req.Header.Set("User-Agent", "epias-extractor/"+currentVersion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrVersionCheckFailed, resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if release.TagName == "" {
		return nil, fmt.Errorf("%w: release has no tag", ErrVersionCheckFailed)
	}
	return &release, nil
}

// compareVersions compares two semantic versions.
// Returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal. A pre-release sorts
// before the release with the same number.
func compareVersions(v1, v2 string) int {
	parts1, pre1 := parseVersion(v1)
	parts2, pre2 := parseVersion(v2)

	for i := range parts1 {
		if parts1[i] != parts2[i] {
			if parts1[i] > parts2[i] {
				return 1
			}
			return -1
		}
	}

	switch {
	case pre1 == pre2:
		return 0
	case pre1 == "":
		return 1
	case pre2 == "":
		return -1
	case pre1 > pre2:
		return 1
	default:
		return -1
	}
}

// parseVersion splits "1.2.3-rc1+build" into [1 2 3] and "rc1"
func parseVersion(version string) ([3]int, string) {
	var parts [3]int
	version = strings.TrimPrefix(version, "v")
	if i := strings.IndexByte(version, '+'); i >= 0 {
		version = version[:i]
	}
	var pre string
	if i := strings.IndexByte(version, '-'); i >= 0 {
		version, pre = version[:i], version[i+1:]
	}

	for i, component := range strings.SplitN(version, ".", 3) {
		n, err := strconv.Atoi(component)
		if err == nil {
			parts[i] = n
		}
	}
	return parts, pre
}

func getVersionCheckCachePath() string {
	return filepath.Join(stateDir(), "version_check.json")
}

func getVersionCheckCache() *VersionCheckCache {
	data, err := os.ReadFile(getVersionCheckCachePath())
	if err != nil {
		return nil
	}

	var cache VersionCheckCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

func saveVersionCheckCache(cache VersionCheckCache) {
	path := getVersionCheckCachePath()
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o600)
}

// formatUpdateMessage creates a user-friendly update notification message
func formatUpdateMessage(result VersionCheckResult) string {
	return fmt.Sprintf("Update available: v%s → v%s (visit %s)",
		strings.TrimPrefix(result.CurrentVersion, "v"),
		result.LatestVersion,
		result.ReleaseURL,
	)
}
