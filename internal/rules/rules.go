// Package rules defines the category rule tables: which categories exist,
// what shape of node they may classify, and which file extensions and
// content types belong to each. The integrity auditor validates the mirror
// against these tables; the sync pipeline uses them to derive processing
// dispositions for new leaves. A default rule set ships embedded; an
// override file can be supplied through configuration.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Shape declares which node kind a category may classify.
type Shape string

// Valid shapes.
const (
	ShapeContainer Shape = "container"
	ShapeLeaf      Shape = "leaf"
)

// Category is one declared classification with its mapping tables.
type Category struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Shape        Shape    `yaml:"shape"`
	Extensions   []string `yaml:"extensions"`
	ContentTypes []string `yaml:"content_types"`
	Processable  bool     `yaml:"processable"`
}

// RuleSet is the full set of category rules with lookup indexes.
type RuleSet struct {
	categories  []Category
	byID        map[string]*Category
	byExtension map[string][]*Category
	byMime      map[string][]*Category
}

// Default returns the embedded rule set.
func Default() (*RuleSet, error) {
	return parse(defaultRulesYAML)
}

// LoadFile reads a rule set from a YAML file, replacing the embedded
// defaults entirely. There is no merging: a partial override silently
// losing default rows would be worse than an explicit full replacement.
func LoadFile(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: reading %s: %w", path, err)
	}

	rs, err := parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rules: parsing %s: %w", path, err)
	}

	return rs, nil
}

// ruleFile is the YAML document shape.
type ruleFile struct {
	Categories []Category `yaml:"categories"`
}

func parse(raw []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("rules: unmarshaling: %w", err)
	}

	rs := &RuleSet{
		categories:  rf.Categories,
		byID:        make(map[string]*Category, len(rf.Categories)),
		byExtension: make(map[string][]*Category),
		byMime:      make(map[string][]*Category),
	}

	for i := range rs.categories {
		cat := &rs.categories[i]

		if err := validateCategory(cat); err != nil {
			return nil, err
		}

		if _, dup := rs.byID[cat.ID]; dup {
			return nil, fmt.Errorf("rules: duplicate category id %q", cat.ID)
		}

		rs.byID[cat.ID] = cat

		for _, ext := range cat.Extensions {
			key := normalizeExt(ext)
			rs.byExtension[key] = append(rs.byExtension[key], cat)
		}

		for _, ct := range cat.ContentTypes {
			key := strings.ToLower(ct)
			rs.byMime[key] = append(rs.byMime[key], cat)
		}
	}

	return rs, nil
}

func validateCategory(cat *Category) error {
	if cat.ID == "" {
		return fmt.Errorf("rules: category with empty id (name %q)", cat.Name)
	}

	if cat.Shape != ShapeContainer && cat.Shape != ShapeLeaf {
		return fmt.Errorf("rules: category %q has invalid shape %q", cat.ID, cat.Shape)
	}

	if cat.Shape == ShapeContainer && (len(cat.Extensions) > 0 || len(cat.ContentTypes) > 0) {
		return fmt.Errorf("rules: container category %q must not declare extension or content-type tables", cat.ID)
	}

	return nil
}

// normalizeExt lowercases an extension and strips a leading dot, so
// ".PDF", "pdf" and ".pdf" all index the same table entry.
func normalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(ext), ".")
}

// CategoryByID returns the category declared with the given id.
func (rs *RuleSet) CategoryByID(id string) (*Category, bool) {
	cat, ok := rs.byID[id]
	return cat, ok
}

// Categories returns all declared categories in file order.
func (rs *RuleSet) Categories() []Category {
	return rs.categories
}

// ForExtension returns the categories whose extension table includes ext,
// ordered by category id so iteration is deterministic.
func (rs *RuleSet) ForExtension(ext string) []*Category {
	return sortedByID(rs.byExtension[normalizeExt(ext)])
}

// ForContentType returns the categories whose content-type table includes
// ct, ordered by category id.
func (rs *RuleSet) ForContentType(ct string) []*Category {
	return sortedByID(rs.byMime[strings.ToLower(ct)])
}

// RepairCandidate returns the category a violating leaf should be
// reassigned to: the leaf-shaped category whose extension table includes
// ext, or failing that whose content-type table includes contentType.
// When several categories match, the one with the lowest id wins; the
// tie-break is lexicographic on category id, fixed and documented so
// repair is stable across runs. Returns nil when nothing matches.
func (rs *RuleSet) RepairCandidate(ext, contentType string) *Category {
	if cands := leafOnly(rs.ForExtension(ext)); len(cands) > 0 {
		return cands[0]
	}

	if cands := leafOnly(rs.ForContentType(contentType)); len(cands) > 0 {
		return cands[0]
	}

	return nil
}

// ContainerCandidate returns the container-shaped category a violating
// container node should be reassigned to, under the same lowest-id
// tie-break as RepairCandidate. Returns nil when the rule set declares
// no container category.
func (rs *RuleSet) ContainerCandidate() *Category {
	var best *Category

	for i := range rs.categories {
		cat := &rs.categories[i]
		if cat.Shape != ShapeContainer {
			continue
		}

		if best == nil || cat.ID < best.ID {
			best = cat
		}
	}

	return best
}

// Processable reports whether a leaf with the given content type should
// receive a needs_processing disposition. The decision depends only on the
// declared content type, never on classification outcome.
func (rs *RuleSet) Processable(contentType string) bool {
	for _, cat := range rs.ForContentType(contentType) {
		if cat.Processable {
			return true
		}
	}

	return false
}

// leafOnly filters out container-shaped categories.
func leafOnly(cats []*Category) []*Category {
	result := make([]*Category, 0, len(cats))

	for _, cat := range cats {
		if cat.Shape == ShapeLeaf {
			result = append(result, cat)
		}
	}

	return result
}

// sortedByID returns a copy of cats ordered by id ascending.
func sortedByID(cats []*Category) []*Category {
	result := make([]*Category, len(cats))
	copy(result, cats)

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}
