// Package secrets redacts credentials from agent output before it is
// committed to a branch or posted to an issue.
package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Scrubber replaces detected secrets with [REDACTED:<rule>] markers.
type Scrubber struct {
	enabled bool
	detect  func(content string) ([]Finding, error)
}

// New returns a Scrubber backed by the default Gitleaks rule set.
func New(enabled bool) *Scrubber {
	return &Scrubber{enabled: enabled, detect: gitleaksDetect}
}

func gitleaksDetect(content string) ([]Finding, error) {
	// Detectors accumulate findings internally, so each scan gets its own.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	found := detector.DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	return out, nil
}

// Scrub returns content with every finding redacted and the findings.
// On detector failure it returns the content unchanged with the error.
func (s *Scrubber) Scrub(content string) (string, []Finding, error) {
	if s == nil || !s.enabled || content == "" {
		return content, nil, nil
	}
	findings, err := s.detect(content)
	if err != nil {
		return content, nil, err
	}

	// Longest first so a secret that contains another is replaced whole.
	sorted := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Match != "" {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Match) > len(sorted[j].Match) })

	for _, f := range sorted {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings, nil
}

// String scrubs content and drops the findings. Detector failures return
// the input unchanged.
func (s *Scrubber) String(content string) string {
	out, _, _ := s.Scrub(content)
	return out
}
