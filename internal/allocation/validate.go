package allocation

import "fmt"

// ValidationResult aggregates structural findings on a plan. A plan with
// errors must not be executed; warnings never block.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidatePlan checks a plan's invariants: no section above maxRatio, no
// student in two sections. Empty or facilitator-less sections are warnings.
// A maxRatio of zero falls back to the planner's cap.
func (p *Planner) ValidatePlan(plan *Plan, maxRatio int) ValidationResult {
	if maxRatio <= 0 {
		maxRatio = p.MaxRatio
	}

	result := ValidationResult{Valid: true}

	for i, sec := range plan.Sections {
		if len(sec.Students) > maxRatio {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"section %d (%s) has %d students, exceeding maximum of %d",
				i+1, sec.ExternalName, len(sec.Students), maxRatio))
		}
		if len(sec.Students) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"section %d (%s) has no students assigned", i+1, sec.ExternalName))
		}
		if sec.Facilitator == nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"section %d (%s) has no facilitator assigned", i+1, sec.ExternalName))
		}
	}

	seen := make(map[string]string, plan.TotalStudents)
	for _, sec := range plan.Sections {
		for _, s := range sec.Students {
			if first, dup := seen[s.ID]; dup {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf(
					"student %s (%s) is assigned to both %s and %s",
					s.Name, s.ID, first, sec.ExternalName))
				continue
			}
			seen[s.ID] = sec.ExternalName
		}
	}

	return result
}
