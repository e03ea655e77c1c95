package attack

import (
	"fmt"
	"time"

	"hashwrap/internal/hashid"
)

// Policy is an optional password policy that seeds a synthesized mask
// attack.
type Policy struct {
	MinLength      int  `json:"min_length"`
	RequireUpper   bool `json:"requires_uppercase"`
	RequireLower   bool `json:"requires_lowercase"`
	RequireDigit   bool `json:"requires_digit"`
	RequireSpecial bool `json:"requires_special"`
}

// Resources describes what the planner may reference. Paths are
// relative to the working directory and validated by the sandbox when
// the command builder consumes them.
type Resources struct {
	WordlistDir string `json:"wordlist_dir"`
	RulesDir    string `json:"rules_dir"`
}

// DefaultResources uses the conventional wordlists/ and rules/ layout.
func DefaultResources() Resources {
	return Resources{WordlistDir: "wordlists", RulesDir: "rules"}
}

// Plan turns a hash analysis into an ordered attack list across up to
// four phases: quick wins, context-targeted, rule-based, and
// policy-derived masks. Plans are deterministic for identical inputs;
// the tracker is an explicit input, not hidden state, so a plan built
// twice from the same analysis and tracker snapshot is identical.
func Plan(analysis *hashid.Analysis, res Resources, policy *Policy, tracker *Tracker) []Attack {
	var mode *int

	if _, dominant, ok := analysis.DominantType(); ok {
		mode = modePtr(dominant.Mode)
	}

	attacks := quickPhase(mode, res)

	switch {
	case looksLikeADDump(analysis):
		attacks = append(attacks, adPhase(mode, res)...)
	case looksLikeWebApp(analysis):
		attacks = append(attacks, webPhase(mode, res)...)
	}

	attacks = append(attacks, rulePhase(mode, res)...)

	if policy != nil {
		attacks = append(attacks, policyMask(mode, *policy))
	}

	if tracker != nil {
		for i := range attacks {
			attacks[i].Priority = tracker.Bias(attacks[i])
		}
	}

	return attacks
}

// InjectionPlan builds the high-priority quick attacks scheduled when
// hashes arrive mid-session. Priorities sit just below the quick-win
// band so they preempt anything still pending.
func InjectionPlan(mode int, res Resources) []Attack {
	return []Attack{
		{
			Name:        "Quick attack for new hashes",
			Kind:        KindDictionary,
			Priority:    PriorityQuickWin - 0.5,
			Mode:        modePtr(mode),
			Wordlist:    res.WordlistDir + "/top100.txt",
			EstDuration: 30 * time.Second,
			SuccessProb: 0.9,
		},
		{
			Name:        "Common patterns for new hashes",
			Kind:        KindMask,
			Priority:    PriorityQuickWin - 0.4,
			Mode:        modePtr(mode),
			Mask:        "?u?l?l?l?l?l?d?d",
			EstDuration: time.Minute,
			SuccessProb: 0.7,
		},
	}
}

func quickPhase(mode *int, res Resources) []Attack {
	return []Attack{
		{
			Name:        "Top 100k passwords",
			Kind:        KindDictionary,
			Priority:    PriorityQuickWin,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/top100k.txt",
			EstDuration: time.Minute,
			SuccessProb: 0.8,
		},
		{
			Name:        "Common patterns",
			Kind:        KindMask,
			Priority:    PriorityQuickWin,
			Mode:        mode,
			Mask:        "?u?l?l?l?l?l?d?d",
			EstDuration: 2 * time.Minute,
			SuccessProb: 0.6,
		},
	}
}

func adPhase(mode *int, res Resources) []Attack {
	return []Attack{
		{
			Name:        "Season + Year patterns",
			Kind:        KindDictionary,
			Priority:    PriorityTargeted,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/seasons_years.txt",
			SuccessProb: 0.7,
		},
		{
			Name:        "Company variations",
			Kind:        KindDictionary,
			Priority:    PriorityTargeted,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/company_variations.txt",
			Rules:       res.RulesDir + "/ad_common.rule",
			SuccessProb: 0.6,
		},
	}
}

func webPhase(mode *int, res Resources) []Attack {
	return []Attack{
		{
			Name:        "Web app defaults",
			Kind:        KindDictionary,
			Priority:    PriorityTargeted,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/web_defaults.txt",
			SuccessProb: 0.5,
		},
	}
}

func rulePhase(mode *int, res Resources) []Attack {
	return []Attack{
		{
			Name:        "RockYou + Best64",
			Kind:        KindDictionary,
			Priority:    PriorityRuleBased,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/rockyou.txt",
			Rules:       res.RulesDir + "/best64.rule",
			EstDuration: time.Hour,
			SuccessProb: 0.7,
		},
		{
			Name:        "Leetspeak variations",
			Kind:        KindDictionary,
			Priority:    PriorityRuleBased,
			Mode:        mode,
			Wordlist:    res.WordlistDir + "/common_words.txt",
			Rules:       res.RulesDir + "/leetspeak.rule",
			SuccessProb: 0.5,
		},
	}
}

// policyMask synthesizes a mask from the policy: one class token per
// required class, lowercase filling the middle, padded with ?a up to
// the minimum length.
func policyMask(mode *int, p Policy) Attack {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = 8
	}

	var parts []string

	if p.RequireUpper {
		parts = append(parts, "?u")
	}

	if p.RequireLower {
		for len(parts) < minLen-2 {
			parts = append(parts, "?l")
		}
	}

	if p.RequireDigit {
		parts = append(parts, "?d")
	}

	if p.RequireSpecial {
		parts = append(parts, "?s")
	}

	for len(parts) < minLen {
		parts = append(parts, "?a")
	}

	var mask string
	for _, part := range parts {
		mask += part
	}

	return Attack{
		Name:        fmt.Sprintf("Policy-based mask (%d chars)", minLen),
		Kind:        KindMask,
		Priority:    PriorityMask,
		Mode:        mode,
		Mask:        mask,
		SuccessProb: 0.4,
	}
}

func looksLikeADDump(analysis *hashid.Analysis) bool {
	return analysis.HasType("NTLM")
}

func looksLikeWebApp(analysis *hashid.Analysis) bool {
	for _, indicator := range []string{"phpBB", "WordPress", "Django", "bcrypt", "MD5"} {
		if analysis.HasType(indicator) {
			return true
		}
	}

	return false
}
