package entity

import "fmt"

// RuleSet is the per-airline turnaround configuration: which milestones
// a flight must track, the partial order between them, and display
// thresholds. Loaded once per session and validated at load time;
// mutations never re-validate vocabulary.
type RuleSet struct {
	Airline       string
	Required      []string
	Prerequisites map[string][]string
	// ThresholdMinutes flags a milestone for display when it runs
	// longer than this; never enforced.
	ThresholdMinutes map[string]int
}

// Validate checks the ruleset vocabulary: required names unique,
// prerequisite references resolvable, and no dependency cycles.
func (r *RuleSet) Validate() error {
	if r.Airline == "" {
		return fmt.Errorf("ruleset: missing airline code")
	}
	if len(r.Required) == 0 {
		return fmt.Errorf("ruleset %s: no required milestones", r.Airline)
	}
	known := make(map[string]bool, len(r.Required))
	for _, name := range r.Required {
		if name == "" {
			return fmt.Errorf("ruleset %s: empty milestone name", r.Airline)
		}
		if known[name] {
			return fmt.Errorf("ruleset %s: duplicate milestone %q", r.Airline, name)
		}
		known[name] = true
	}
	for name, prereqs := range r.Prerequisites {
		if !known[name] {
			return fmt.Errorf("ruleset %s: prerequisite rule for unknown milestone %q", r.Airline, name)
		}
		for _, p := range prereqs {
			if !known[p] {
				return fmt.Errorf("ruleset %s: milestone %q requires unknown milestone %q", r.Airline, name, p)
			}
			if p == name {
				return fmt.Errorf("ruleset %s: milestone %q requires itself", r.Airline, name)
			}
		}
	}
	if cycle := r.findCycle(); cycle != "" {
		return fmt.Errorf("ruleset %s: prerequisite cycle through %q", r.Airline, cycle)
	}
	return nil
}

// findCycle runs a colored DFS over the prerequisite graph and returns
// a milestone on a cycle, or "".
func (r *RuleSet) findCycle() string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(r.Prerequisites))
	var visit func(name string) string
	visit = func(name string) string {
		color[name] = grey
		for _, p := range r.Prerequisites[name] {
			switch color[p] {
			case grey:
				return p
			case white:
				if c := visit(p); c != "" {
					return c
				}
			}
		}
		color[name] = black
		return ""
	}
	for name := range r.Prerequisites {
		if color[name] == white {
			if c := visit(name); c != "" {
				return c
			}
		}
	}
	return ""
}

// PrerequisitesOf returns the declared prerequisites for a milestone.
func (r *RuleSet) PrerequisitesOf(name string) []string {
	if r == nil {
		return nil
	}
	return r.Prerequisites[name]
}
