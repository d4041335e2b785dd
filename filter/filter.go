package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeSender  []string
	IncludeSubject []string
	ExcludeSender  []string
	ExcludeSubject []string
}

// Filter holds compiled regex patterns for filtering messages by sender and
// subject.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeSender  []*regexp.Regexp
	includeSubject []*regexp.Regexp
	excludeSender  []*regexp.Regexp
	excludeSubject []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeSender, err := compilePatterns(opts.IncludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile include-sender pattern: %w", err)
	}
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	excludeSender, err := compilePatterns(opts.ExcludeSender)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-sender pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}

	includeActive := len(includeSender) > 0 || len(includeSubject) > 0
	excludeActive := len(excludeSender) > 0 || len(excludeSubject) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeSender:  includeSender,
		includeSubject: includeSubject,
		excludeSender:  excludeSender,
		excludeSubject: excludeSubject,
	}, nil
}

// Allows returns true if the message passes the filter criteria. A nil
// Filter allows everything.
func (f *Filter) Allows(sender, subject string) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		return matchAny(f.includeSender, sender) || matchAny(f.includeSubject, subject)
	}

	if f.excludeMode {
		if matchAny(f.excludeSender, sender) || matchAny(f.excludeSubject, subject) {
			return false
		}
	}

	return true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
