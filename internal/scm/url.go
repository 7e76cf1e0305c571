package scm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/animus-labs/launchpad/internal/domain"
)

var repositoryURLPattern = regexp.MustCompile(`(?i)^(?:https?://|git@)?(?:[^@/]+@)?(github\.com|gitlab\.com)(?::|/)([^/\s]+/[^\s]+?)/*$`)

// ParseRepositoryURL extracts the provider and owner/name path from an https
// or ssh clone URL.
func ParseRepositoryURL(raw string) (domain.Provider, string, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, ".git"), ".GIT")
	match := repositoryURLPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return "", "", fmt.Errorf("unsupported repository url %q", raw)
	}
	provider := domain.ProviderGitLab
	if strings.Contains(strings.ToLower(match[1]), "github") {
		provider = domain.ProviderGitHub
	}
	return provider, match[2], nil
}
