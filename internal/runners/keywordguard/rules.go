package keywordguard

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// CategoryRule is one detection category in a rules file.
type CategoryRule struct {
	Name          string   `yaml:"name"`
	Weight        float64  `yaml:"weight"`
	Keywords      []string `yaml:"keywords"`
	Patterns      []string `yaml:"patterns"`
	CaseSensitive bool     `yaml:"case_sensitive"`
}

type rulesFile struct {
	Categories []CategoryRule `yaml:"categories"`
}

type category struct {
	name   string
	weight float64
	res    []*regexp.Regexp
}

// Rules is a compiled rule set.
type Rules struct {
	cats []category
}

// ParseRules compiles YAML rules. Keywords match literally, patterns are
// Go regular expressions; both are case-insensitive unless the category
// says otherwise.
func ParseRules(b []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("rules: no categories")
	}
	seen := map[string]bool{}
	out := &Rules{}
	for _, c := range f.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.New("rules: category without name")
		}
		if seen[name] {
			return nil, fmt.Errorf("rules: duplicate category %q", name)
		}
		seen[name] = true
		if c.Weight <= 0 || c.Weight > 1 {
			return nil, fmt.Errorf("rules: category %s: weight %v out of (0, 1]", name, c.Weight)
		}
		prefix := "(?i)"
		if c.CaseSensitive {
			prefix = ""
		}
		cat := category{name: name, weight: c.Weight}
		for _, kw := range c.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				cat.res = append(cat.res, regexp.MustCompile(prefix+regexp.QuoteMeta(kw)))
			}
		}
		for _, p := range c.Patterns {
			re, err := regexp.Compile(prefix + p)
			if err != nil {
				return nil, fmt.Errorf("rules: category %s: %w", name, err)
			}
			cat.res = append(cat.res, re)
		}
		if len(cat.res) == 0 {
			return nil, fmt.Errorf("rules: category %s has no keywords or patterns", name)
		}
		out.cats = append(out.cats, cat)
	}
	return out, nil
}

// LoadRules reads and compiles a rules file.
func LoadRules(path string) (*Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRules(b)
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return r
}

// match is the outcome of scanning one text.
type match struct {
	risk       float64
	categories []string
	redacted   string
}

const redaction = "[REDACTED]"

func (r *Rules) scan(text string) match {
	var m match
	redacted := text
	for _, c := range r.cats {
		hit := false
		for _, re := range c.res {
			if re.MatchString(text) {
				hit = true
				redacted = re.ReplaceAllString(redacted, redaction)
			}
		}
		if !hit {
			continue
		}
		m.categories = append(m.categories, c.name)
		if c.weight > m.risk {
			m.risk = c.weight
		}
	}
	sort.Strings(m.categories)
	m.redacted = redacted
	return m
}

// Categories lists the category names in file order.
func (r *Rules) Categories() []string {
	out := make([]string, 0, len(r.cats))
	for _, c := range r.cats {
		out = append(out, c.name)
	}
	return out
}
