// Package sanitize validates identifiers that arrive from webhooks and agent
// replies before they reach repository paths or API calls.
package sanitize

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Validation errors for security checks.
var (
	// ErrEmpty indicates a required value was empty.
	ErrEmpty = errors.New("value cannot be empty")

	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrAbsolutePath indicates an absolute path was provided where relative was expected.
	ErrAbsolutePath = errors.New("absolute path not allowed")

	// ErrInvalidName indicates a name does not match the allowed format.
	ErrInvalidName = errors.New("invalid name format")
)

// MaxSegmentLength bounds names that become a single path element.
const MaxSegmentLength = 100

// repoNamePattern matches GitHub owner and repository names.
var repoNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// segmentPattern matches agent ids and component names.
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRepoName checks an owner or repository name taken from a webhook.
// field names the value in the returned error.
func ValidateRepoName(field, name string) error {
	if name == "" {
		return fmt.Errorf("%s: %w", field, ErrEmpty)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%s: %w", field, ErrPathTraversal)
	}
	if !repoNamePattern.MatchString(name) {
		return fmt.Errorf("%s %q: %w", field, name, ErrInvalidName)
	}
	return nil
}

// ValidateSegment checks that name can be used as one element of a
// repository path, as in research/<name>.md.
func ValidateSegment(name string) error {
	if name == "" {
		return ErrEmpty
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("%q: %w", name, ErrPathTraversal)
	}
	if len(name) > MaxSegmentLength {
		return fmt.Errorf("%q: %w: longer than %d characters", name, ErrInvalidName, MaxSegmentLength)
	}
	if !segmentPattern.MatchString(name) {
		return fmt.Errorf("%q: %w: must be letters, digits, '.', '_' or '-'", name, ErrInvalidName)
	}
	return nil
}

// ValidatePath checks a slash-separated path relative to a repository root
// and returns its cleaned form.
func ValidatePath(p string) (string, error) {
	if p == "" {
		return "", ErrEmpty
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", fmt.Errorf("%q: %w", p, ErrAbsolutePath)
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." {
			return "", fmt.Errorf("%q: %w", p, ErrPathTraversal)
		}
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", fmt.Errorf("%q: %w", p, ErrEmpty)
	}
	return clean, nil
}
