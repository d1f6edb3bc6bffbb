// Package pathmap rewrites filesystem path values between submission and
// execution hosts using an ordered list of prefix-replacement rules.
package pathmap

import (
	"fmt"
	"strings"
)

// PathFormat identifies a path's host convention.
type PathFormat string

const (
	Posix   PathFormat = "POSIX"
	Windows PathFormat = "WINDOWS"
)

// Rule rewrites paths whose prefix matches SourcePath, replacing it with
// DestinationPath.
type Rule struct {
	SourcePathFormat PathFormat `json:"source_path_format"`
	SourcePath       string     `json:"source_path"`
	DestinationPath  string     `json:"destination_path"`
}

// PathMappingError reports a malformed rule. Malformed rules fail fast,
// before any session starts.
type PathMappingError struct {
	RuleIndex int
	Message   string
}

func (e *PathMappingError) Error() string {
	return fmt.Sprintf("path mapping rule %d: %s", e.RuleIndex, e.Message)
}

// RuleSet is an ordered, immutable set of validated mapping rules.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates rules and returns an immutable RuleSet. Rule order is
// significant: it breaks ties between equally long matching prefixes.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	for i, r := range rules {
		if r.SourcePath == "" {
			return nil, &PathMappingError{RuleIndex: i, Message: "empty source_path"}
		}
		switch r.SourcePathFormat {
		case Posix, Windows:
		default:
			return nil, &PathMappingError{RuleIndex: i, Message: fmt.Sprintf("unknown source_path_format %q", r.SourcePathFormat)}
		}
	}
	return &RuleSet{rules: append([]Rule{}, rules...)}, nil
}

// Rules returns a copy of the ordered rules.
func (rs *RuleSet) Rules() []Rule {
	return append([]Rule{}, rs.rules...)
}

// Translate rewrites path for the given host convention. Among rules whose
// format matches the host and whose source_path is a prefix of path
// (case-sensitive for POSIX, case-insensitive for WINDOWS), the longest
// matching prefix wins; on a tie the rule earliest in the list wins. No
// match returns path unchanged.
func (rs *RuleSet) Translate(path string, host PathFormat) string {
	if rs == nil {
		return path
	}
	best := -1
	bestLen := -1
	for i, r := range rs.rules {
		if r.SourcePathFormat != host {
			continue
		}
		if !hasPrefix(path, r.SourcePath, host) {
			continue
		}
		if len(r.SourcePath) > bestLen {
			best, bestLen = i, len(r.SourcePath)
		}
	}
	if best < 0 {
		return path
	}

	rule := rs.rules[best]
	remainder := path[len(rule.SourcePath):]
	return joinMapped(rule.DestinationPath, remainder)
}

func hasPrefix(path, prefix string, host PathFormat) bool {
	if len(path) < len(prefix) {
		return false
	}
	head := path[:len(prefix)]
	if host == Windows {
		return strings.EqualFold(head, prefix)
	}
	return head == prefix
}

// joinMapped appends the unmapped remainder to the destination prefix,
// rewriting the remainder's separators to the destination's convention.
func joinMapped(dest, remainder string) string {
	sep := separatorOf(dest)
	other := byte('/')
	if sep == '/' {
		other = '\\'
	}
	mapped := strings.ReplaceAll(remainder, string(other), string(sep))

	if mapped == "" {
		return dest
	}
	destEndsSep := strings.HasSuffix(dest, string(sep))
	mappedStartsSep := strings.HasPrefix(mapped, string(sep))
	switch {
	case destEndsSep && mappedStartsSep:
		return dest + mapped[1:]
	case !destEndsSep && !mappedStartsSep:
		return dest + string(sep) + mapped
	default:
		return dest + mapped
	}
}

// separatorOf infers a destination path's separator convention: backslashes
// or a drive-letter prefix mean Windows, anything else POSIX.
func separatorOf(p string) byte {
	if strings.ContainsRune(p, '\\') {
		return '\\'
	}
	if len(p) >= 2 && p[1] == ':' && isASCIILetter(p[0]) {
		return '\\'
	}
	return '/'
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
