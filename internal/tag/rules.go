// Package tag attaches labels to code entities, either from declarative
// rules (path globs, import substrings, regexes, symbol patterns) or by
// semantic similarity between a tag's description and chunk embeddings.
package tag

import (
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// Rule match types.
const (
	MatchPath   = "PATH"
	MatchImport = "IMPORT"
	MatchRegex  = "REGEX"
	MatchSymbol = "SYMBOL"
)

// SemanticThreshold is the minimum cosine similarity between a tag
// description embedding and a chunk embedding for a semantic match.
const SemanticThreshold = 0.78

// RuleFile is the YAML shape of a tag rules file.
type RuleFile struct {
	Tags []TagSpec `yaml:"tags"`
}

// TagSpec declares one tag and its rules.
type TagSpec struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Rules       []RuleSpec `yaml:"rules"`
}

// RuleSpec declares one matching rule.
type RuleSpec struct {
	Match   string  `yaml:"match"`
	Pattern string  `yaml:"pattern"`
	Weight  float32 `yaml:"weight"`
}

// LoadRules reads and validates a YAML rules file.
func LoadRules(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindPermanentIO, err, "read tag rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules parses YAML rule content.
func ParseRules(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, rmerr.Wrap(rmerr.KindValidation, err, "parse tag rules")
	}
	for i := range rf.Tags {
		t := &rf.Tags[i]
		if t.Name == "" {
			return nil, rmerr.New(rmerr.KindValidation, "tag %d has no name", i)
		}
		for j := range t.Rules {
			r := &t.Rules[j]
			r.Match = strings.ToUpper(r.Match)
			switch r.Match {
			case MatchPath, MatchImport, MatchSymbol:
			case MatchRegex:
				if _, err := regexp.Compile(r.Pattern); err != nil {
					return nil, rmerr.Wrap(rmerr.KindValidation, err,
						"tag %s rule %d: bad regex", t.Name, j)
				}
			default:
				return nil, rmerr.New(rmerr.KindValidation,
					"tag %s rule %d: unknown match type %q", t.Name, j, r.Match)
			}
			if r.Pattern == "" {
				return nil, rmerr.New(rmerr.KindValidation,
					"tag %s rule %d: empty pattern", t.Name, j)
			}
			if r.Weight <= 0 {
				r.Weight = 1
			}
		}
	}
	return &rf, nil
}

// compiledRule is a rule ready to evaluate.
type compiledRule struct {
	match   string
	pattern string
	weight  float32
	re      *regexp.Regexp
}

func compileRule(match, pattern string, weight float32) (compiledRule, error) {
	cr := compiledRule{match: match, pattern: pattern, weight: weight}
	if match == MatchRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return cr, rmerr.Wrap(rmerr.KindValidation, err, "compile rule regex")
		}
		cr.re = re
	}
	return cr, nil
}

// MatchesFile reports whether the rule matches a file's path or header.
func (r compiledRule) MatchesFile(relPath, header string) bool {
	switch r.match {
	case MatchPath:
		ok, _ := doublestar.Match(r.pattern, relPath)
		return ok
	case MatchRegex:
		return r.re.MatchString(relPath)
	case MatchImport:
		return strings.Contains(header, r.pattern)
	default:
		return false
	}
}

// MatchesSymbol reports whether the rule matches a symbol name or fqn.
func (r compiledRule) MatchesSymbol(name, fqn string) bool {
	switch r.match {
	case MatchSymbol:
		if ok, _ := doublestar.Match(r.pattern, name); ok {
			return true
		}
		ok, _ := doublestar.Match(r.pattern, fqn)
		return ok
	case MatchRegex:
		return r.re.MatchString(fqn)
	default:
		return false
	}
}

// confidence clamps a rule weight into [0, 1].
func confidence(weight float32) float32 {
	if weight > 1 {
		return 1
	}
	return weight
}
