// Package allocation turns a roster and a facilitator pool into a section
// plan: a recommended section count and strategy, a concrete plan with
// facilitator assignment and student distribution, and structural
// validation of the result.
package allocation

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"sectionmgr/internal/types"
)

// Default students-per-section ratios.
const (
	DefaultTargetRatio = 25
	DefaultMaxRatio    = 50
)

// Strategy is the section-count decision Recommend arrived at.
type Strategy string

const (
	StrategyNone               Strategy = "none"
	StrategyNoFacilitators     Strategy = "no_facilitators"
	StrategyIdeal              Strategy = "ideal"
	StrategyUseAllFacilitators Strategy = "use_all_facilitators"
	StrategyExceedCapacity     Strategy = "exceed_capacity"
)

// Distribution selects how students are ordered before round-robin
// assignment.
type Distribution string

const (
	DistributionBalanced     Distribution = "balanced"
	DistributionAlphabetical Distribution = "alphabetical"
	DistributionRandom       Distribution = "random"
)

// Planner computes recommendations and plans under a ratio policy.
type Planner struct {
	TargetRatio int
	MaxRatio    int
}

// NewPlanner returns a planner with the default 1:25 target and 1:50 cap.
func NewPlanner() *Planner {
	return &Planner{TargetRatio: DefaultTargetRatio, MaxRatio: DefaultMaxRatio}
}

// Recommendation is the outcome of analyzing a course roster.
type Recommendation struct {
	Students struct {
		Total      int `json:"total"`
		Unassigned int `json:"unassigned"`
		InSections int `json:"in_sections"`
	} `json:"students"`
	Facilitators struct {
		Total     int `json:"total"`
		Available int `json:"available"`
	} `json:"facilitators"`
	Sections struct {
		Existing   int `json:"existing"`
		NonDefault int `json:"non_default"`
	} `json:"sections"`

	SuggestedSections           int             `json:"suggested_sections"`
	Strategy                    Strategy        `json:"strategy"`
	Reason                      string          `json:"reason"`
	AvgStudentsPerSection       int             `json:"avg_students_per_section"`
	FacilitatorsUsed            int             `json:"facilitators_used"`
	SectionsWithoutFacilitators int             `json:"sections_without_facilitators"`
	Warnings                    []types.Warning `json:"warnings"`
}

// UnassignedStudents returns the students not actively enrolled in any of
// the given sections. Membership in a platform default bucket does not
// count as an assignment.
func UnassignedStudents(students []types.Student, sections []types.Section) []types.Student {
	var unassigned []types.Student
	for _, s := range students {
		if !assignedTo(s.SectionIDs, sections) {
			unassigned = append(unassigned, s)
		}
	}
	return unassigned
}

// AvailableFacilitators returns the facilitators not teaching any of the
// given sections.
func AvailableFacilitators(facilitators []types.Facilitator, sections []types.Section) []types.Facilitator {
	var available []types.Facilitator
	for _, f := range facilitators {
		if !assignedTo(f.SectionIDs, sections) {
			available = append(available, f)
		}
	}
	return available
}

func assignedTo(memberOf []string, sections []types.Section) bool {
	for _, sec := range sections {
		if sec.Default {
			continue
		}
		for _, id := range memberOf {
			if id == sec.ID {
				return true
			}
		}
	}
	return false
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Recommend analyzes the roster against existing sections and proposes a
// section count and strategy. Decision order, first match wins:
// no unassigned students, no available facilitators, target ratio fits the
// facilitator pool, all facilitators under the maximum ratio, and finally
// the minimum section count that respects the maximum ratio.
func (p *Planner) Recommend(students []types.Student, facilitators []types.Facilitator, existing []types.Section) Recommendation {
	unassigned := UnassignedStudents(students, existing)
	available := AvailableFacilitators(facilitators, existing)

	var rec Recommendation
	rec.Students.Total = len(students)
	rec.Students.Unassigned = len(unassigned)
	rec.Students.InSections = len(students) - len(unassigned)
	rec.Facilitators.Total = len(facilitators)
	rec.Facilitators.Available = len(available)
	rec.Sections.Existing = len(existing)
	for _, sec := range existing {
		if !sec.Default && !strings.Contains(strings.ToLower(sec.Name), "default") {
			rec.Sections.NonDefault++
		}
	}

	u := len(unassigned)
	switch {
	case u == 0:
		rec.Strategy = StrategyNone
		rec.Reason = "all students are already assigned to sections"

	case len(available) == 0:
		minimum := ceilDiv(u, p.MaxRatio)
		rec.Strategy = StrategyNoFacilitators
		rec.SuggestedSections = minimum
		rec.AvgStudentsPerSection = ceilDiv(u, minimum)
		rec.SectionsWithoutFacilitators = minimum
		rec.Reason = "no available facilitators - using maximum ratio"

	default:
		ideal := ceilDiv(u, p.TargetRatio)
		if ideal <= len(available) {
			rec.Strategy = StrategyIdeal
			rec.SuggestedSections = ideal
			rec.AvgStudentsPerSection = ceilDiv(u, ideal)
			rec.FacilitatorsUsed = ideal
			rec.Reason = fmt.Sprintf("ideal 1:%d ratio with available facilitators", p.TargetRatio)
		} else if perSection := ceilDiv(u, len(available)); perSection <= p.MaxRatio {
			rec.Strategy = StrategyUseAllFacilitators
			rec.SuggestedSections = len(available)
			rec.AvgStudentsPerSection = perSection
			rec.FacilitatorsUsed = len(available)
			rec.Reason = fmt.Sprintf("using all %d available facilitators", len(available))
		} else {
			minimum := ceilDiv(u, p.MaxRatio)
			rec.Strategy = StrategyExceedCapacity
			rec.SuggestedSections = minimum
			rec.AvgStudentsPerSection = ceilDiv(u, minimum)
			rec.FacilitatorsUsed = len(available)
			rec.SectionsWithoutFacilitators = minimum - len(available)
			rec.Reason = fmt.Sprintf("need %d sections to stay under 1:%d ratio", minimum, p.MaxRatio)
		}
	}

	rec.Warnings = p.warnings(rec)
	return rec
}

func (p *Planner) warnings(rec Recommendation) []types.Warning {
	var warnings []types.Warning

	if rec.Facilitators.Total == 0 {
		warnings = append(warnings, types.Warning{
			Type:     "no_facilitators",
			Message:  "no facilitators found in course; sections will be created without assigned facilitators",
			Severity: types.SeverityWarning,
		})
	}

	if rec.AvgStudentsPerSection > p.TargetRatio {
		severity := types.SeverityWarning
		if rec.AvgStudentsPerSection > p.MaxRatio {
			severity = types.SeverityError
		}
		warnings = append(warnings, types.Warning{
			Type:     "high_ratio",
			Message:  fmt.Sprintf("average students per section (%d) exceeds ideal ratio of 1:%d", rec.AvgStudentsPerSection, p.TargetRatio),
			Severity: severity,
		})
	}

	if rec.SectionsWithoutFacilitators > 0 {
		warnings = append(warnings, types.Warning{
			Type:     "sections_without_facilitators",
			Message:  fmt.Sprintf("%d sections will not have assigned facilitators", rec.SectionsWithoutFacilitators),
			Severity: types.SeverityWarning,
		})
	}

	if rec.Students.InSections > 0 {
		warnings = append(warnings, types.Warning{
			Type:     "existing_assignments",
			Message:  fmt.Sprintf("%d students are already assigned to sections and will not be moved", rec.Students.InSections),
			Severity: types.SeverityInfo,
		})
	}

	return warnings
}

// SectionConfig names the sections a plan will create. Templates substitute
// "{number}" with the 1-based section index.
type SectionConfig struct {
	Count        int
	InternalName string
	ExternalName string
}

// DefaultNameTemplates returns the standard section name templates.
func DefaultNameTemplates(baseName string) SectionConfig {
	if baseName == "" {
		baseName = "Section"
	}
	return SectionConfig{
		InternalName: baseName + " {number} (Internal)",
		ExternalName: baseName + " {number}",
	}
}

// PlannedSection is one not-yet-remote section of a plan.
type PlannedSection struct {
	InternalName string             `json:"internal_name"`
	ExternalName string             `json:"external_name"`
	Facilitator  *types.Facilitator `json:"facilitator,omitempty"`
	Students     []types.Student    `json:"students"`
	MaxStudents  int                `json:"max_students"`
}

// SectionLoad summarizes one planned section.
type SectionLoad struct {
	Name         string `json:"name"`
	StudentCount int    `json:"student_count"`
	Facilitator  string `json:"facilitator"`
}

// Plan is a concrete allocation: named sections with facilitators and
// distributed students. Discarded after execution or on validation failure.
type Plan struct {
	Sections      []PlannedSection `json:"sections"`
	Distribution  Distribution     `json:"distribution"`
	TotalStudents int              `json:"total_students"`
	Summary       struct {
		SectionsCreated       int           `json:"sections_created"`
		FacilitatorsAssigned  int           `json:"facilitators_assigned"`
		AvgStudentsPerSection int           `json:"avg_students_per_section"`
		Loads                 []SectionLoad `json:"distribution"`
	} `json:"summary"`
}

// CreatePlan builds cfg.Count sections, assigns facilitators by position
// (extra sections get none), and distributes the given students round-robin
// after ordering them per the distribution strategy. The student slice must
// already be the unassigned pool; see UnassignedStudents.
func (p *Planner) CreatePlan(students []types.Student, facilitators []types.Facilitator, cfg SectionConfig, dist Distribution) (*Plan, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("section count must be positive, got %d", cfg.Count)
	}
	if len(students) == 0 {
		return nil, fmt.Errorf("no unassigned students to allocate")
	}
	if dist == "" {
		dist = DistributionBalanced
	}

	plan := &Plan{
		Distribution:  dist,
		TotalStudents: len(students),
		Sections:      make([]PlannedSection, cfg.Count),
	}
	for i := range plan.Sections {
		number := strconv.Itoa(i + 1)
		sec := PlannedSection{
			InternalName: strings.ReplaceAll(cfg.InternalName, "{number}", number),
			ExternalName: strings.ReplaceAll(cfg.ExternalName, "{number}", number),
			MaxStudents:  ceilDiv(len(students), cfg.Count),
		}
		if i < len(facilitators) {
			f := facilitators[i]
			sec.Facilitator = &f
		}
		plan.Sections[i] = sec
	}

	for i, s := range orderStudents(students, dist) {
		sec := &plan.Sections[i%cfg.Count]
		sec.Students = append(sec.Students, s)
	}

	plan.Summary.SectionsCreated = cfg.Count
	plan.Summary.AvgStudentsPerSection = len(students) / cfg.Count
	for _, sec := range plan.Sections {
		name := "Unassigned"
		if sec.Facilitator != nil {
			name = sec.Facilitator.Name
			plan.Summary.FacilitatorsAssigned++
		}
		plan.Summary.Loads = append(plan.Summary.Loads, SectionLoad{
			Name:         sec.ExternalName,
			StudentCount: len(sec.Students),
			Facilitator:  name,
		})
	}
	return plan, nil
}

// orderStudents returns a copy of students in distribution order.
func orderStudents(students []types.Student, dist Distribution) []types.Student {
	ordered := make([]types.Student, len(students))
	copy(ordered, students)

	switch dist {
	case DistributionAlphabetical:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			if a.SortableName != b.SortableName {
				return a.SortableName < b.SortableName
			}
			return a.Name < b.Name
		})
	case DistributionRandom:
		rand.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}
	return ordered
}
