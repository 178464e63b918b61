package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dhgarchive/drivemirror/internal/mirror"
	"github.com/dhgarchive/drivemirror/internal/rules"
)

// ViolationClass names one of the independent consistency checks the
// auditor runs over the mirror.
type ViolationClass string

// The three violation classes.
const (
	ViolationKindCategory        ViolationClass = "kind_category"
	ViolationExtensionCategory   ViolationClass = "extension_category"
	ViolationContentTypeCategory ViolationClass = "content_type_category"
)

// Violation is one detected inconsistency between a node's declared
// category and its observed kind, extension, or content type.
type Violation struct {
	Class      ViolationClass `json:"class"`
	RemoteID   string         `json:"remote_id"`
	Path       string         `json:"path"`
	CategoryID string         `json:"category_id"`
	Detail     string         `json:"detail"`
}

// AuditOptions tune one auditor run.
type AuditOptions struct {
	// Repair reassigns violating nodes to the deterministic candidate
	// category. Off means report-only: the auditor performs no writes.
	Repair bool

	// Limit caps the number of sampled violations kept in the report.
	// Counts are always exact. Zero or negative means keep all.
	Limit int
}

// AuditReport summarizes one auditor run over a single root scope.
type AuditReport struct {
	RootID       string                 `json:"root_id"`
	Checked      int                    `json:"checked"`
	Counts       map[ViolationClass]int `json:"counts"`
	Samples      []Violation            `json:"samples,omitempty"`
	Repaired     int                    `json:"repaired"`
	Irreparable  int                    `json:"irreparable"`
	RepairErrors []error                `json:"-"`
}

// Total returns the violation count across all classes.
func (r *AuditReport) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}

	return total
}

// Auditor validates the mirror's declared categories against the rule
// tables. It runs independently of the sync pipeline, any time, directly
// against the mirror.
type Auditor struct {
	store  AuditorStore
	rules  *rules.RuleSet
	logger *slog.Logger
}

// NewAuditor creates an Auditor checking against the given rule set.
func NewAuditor(store AuditorStore, ruleSet *rules.RuleSet, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Auditor{store: store, rules: ruleSet, logger: logger}
}

// Audit checks every categorized node under rootID. Each node is tested
// against all three classes independently; a node can contribute to more
// than one count but is repaired at most once. Uncategorized nodes are
// skipped: classification ownership lies elsewhere, the auditor only
// validates what has been assigned.
func (a *Auditor) Audit(ctx context.Context, rootID string, opts AuditOptions) (*AuditReport, error) {
	scope, err := a.store.QueryScope(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("query mirror scope %s: %w", rootID, err)
	}

	report := &AuditReport{
		RootID: rootID,
		Counts: make(map[ViolationClass]int),
	}

	for _, node := range scope {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if node.CategoryID == nil {
			continue
		}

		report.Checked++

		violations := a.check(node)
		if len(violations) == 0 {
			continue
		}

		for _, v := range violations {
			report.Counts[v.Class]++

			if opts.Limit <= 0 || len(report.Samples) < opts.Limit {
				report.Samples = append(report.Samples, v)
			}
		}

		if opts.Repair {
			a.repair(ctx, node, report)
		}
	}

	a.logger.Info("audit complete",
		"root_id", rootID,
		"checked", report.Checked,
		"violations", report.Total(),
		"repaired", report.Repaired,
		"repair", opts.Repair)

	return report, nil
}

// check runs the three consistency classes against one node.
func (a *Auditor) check(node *mirror.Node) []Violation {
	var violations []Violation

	cat, known := a.rules.CategoryByID(*node.CategoryID)
	if !known {
		// An unknown category id conflicts with every kind by definition.
		violations = append(violations, Violation{
			Class:      ViolationKindCategory,
			RemoteID:   node.RemoteID,
			Path:       node.Path,
			CategoryID: *node.CategoryID,
			Detail:     "category id not declared in rule set",
		})

		return violations
	}

	if shapeConflicts(cat.Shape, node.Kind) {
		violations = append(violations, Violation{
			Class:      ViolationKindCategory,
			RemoteID:   node.RemoteID,
			Path:       node.Path,
			CategoryID: cat.ID,
			Detail:     fmt.Sprintf("category shape %s conflicts with node kind %s", cat.Shape, node.Kind),
		})
	}

	if node.Kind != mirror.KindLeaf {
		return violations
	}

	if ext := extensionOf(node.Name); ext != "" {
		if v, ok := a.checkTable(node, cat, ext, a.rules.ForExtension(ext), ViolationExtensionCategory, "extension"); ok {
			violations = append(violations, v)
		}
	}

	if node.MimeType != "" {
		if v, ok := a.checkTable(node, cat, node.MimeType, a.rules.ForContentType(node.MimeType), ViolationContentTypeCategory, "content type"); ok {
			violations = append(violations, v)
		}
	}

	return violations
}

// checkTable flags a node whose observed extension or content type is
// mapped by the rule tables to a set of categories that excludes the
// node's declared one. An unmapped value is not a violation: absence of
// a rule means no expectation.
func (a *Auditor) checkTable(
	node *mirror.Node,
	cat *rules.Category,
	observed string,
	expected []*rules.Category,
	class ViolationClass,
	label string,
) (Violation, bool) {
	if len(expected) == 0 {
		return Violation{}, false
	}

	for _, want := range expected {
		if want.ID == cat.ID {
			return Violation{}, false
		}
	}

	return Violation{
		Class:      class,
		RemoteID:   node.RemoteID,
		Path:       node.Path,
		CategoryID: cat.ID,
		Detail:     fmt.Sprintf("%s %q maps to other categories", label, observed),
	}, true
}

// repair reassigns one violating node to its deterministic candidate
// category. Leaves prefer a leaf-shaped category matching the observed
// extension, then content type; containers take the lowest-id container
// category. Repair failures are recorded on the report and do not stop
// the run.
func (a *Auditor) repair(ctx context.Context, node *mirror.Node, report *AuditReport) {
	var candidate *rules.Category

	switch node.Kind {
	case mirror.KindContainer:
		candidate = a.rules.ContainerCandidate()
	case mirror.KindLeaf:
		candidate = a.rules.RepairCandidate(extensionOf(node.Name), node.MimeType)
	}

	if candidate == nil {
		report.Irreparable++
		a.logger.Warn("no repair candidate",
			"remote_id", node.RemoteID, "path", node.Path, "category_id", *node.CategoryID)

		return
	}

	if candidate.ID == *node.CategoryID {
		// Already holds the candidate: the violation came from a table
		// the candidate itself cannot satisfy either.
		report.Irreparable++
		return
	}

	if err := a.store.SetCategory(ctx, node.RemoteID, mirror.StringPtr(candidate.ID)); err != nil {
		report.RepairErrors = append(report.RepairErrors,
			fmt.Errorf("repair %s: %w", node.RemoteID, err))
		a.logger.Error("repair failed", "remote_id", node.RemoteID, "error", err)

		return
	}

	a.logger.Info("node recategorized",
		"remote_id", node.RemoteID,
		"path", node.Path,
		"from", *node.CategoryID,
		"to", candidate.ID)

	node.CategoryID = mirror.StringPtr(candidate.ID)
	report.Repaired++
}

// shapeConflicts reports whether a declared category shape is
// incompatible with an observed node kind.
func shapeConflicts(shape rules.Shape, kind mirror.NodeKind) bool {
	switch shape {
	case rules.ShapeContainer:
		return kind != mirror.KindContainer
	case rules.ShapeLeaf:
		return kind != mirror.KindLeaf
	default:
		return true
	}
}

// extensionOf returns the lowercased file-name extension without the
// leading dot, or "" when the name has none.
func extensionOf(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return ""
	}

	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
