// Package scoring computes a deterministic weighted qualification score for a
// buyer against a seller's target criteria. It performs no I/O: identical
// inputs always produce the identical result.
package scoring

import "strings"

// Recommendation is the branching decision derived from the overall score.
type Recommendation string

const (
	RecommendProposeMeeting Recommendation = "propose_meeting"
	RecommendClarify        Recommendation = "clarify"
	RecommendDecline        Recommendation = "decline"
)

// Signal names. Eight fixed signals contribute to the overall score.
const (
	SignalIndustry  = "Industry Match"
	SignalSize      = "Company Size"
	SignalGeography = "Geographic Match"
	SignalIntent    = "Need Intent"
	SignalTiming    = "Timing"
	SignalBudget    = "Budget Range"
	SignalAuthority = "Authority"
	SignalStack     = "Stack Compatibility"
)

// matchedThreshold is the signal strength at or above which a signal counts
// as matched.
const matchedThreshold = 0.7

// Config carries the signal weights and recommendation thresholds. Both are
// tunable; DefaultConfig returns the standard table (weights sum to 100).
type Config struct {
	Weights          map[string]int
	ProposeThreshold int
	ClarifyThreshold int
}

// DefaultConfig returns the standard weight table and thresholds.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]int{
			SignalIndustry:  20,
			SignalSize:      15,
			SignalGeography: 10,
			SignalIntent:    15,
			SignalTiming:    10,
			SignalBudget:    15,
			SignalAuthority: 10,
			SignalStack:     5,
		},
		ProposeThreshold: 75,
		ClarifyThreshold: 50,
	}
}

// Criteria is the seller's qualification target.
type Criteria struct {
	Industries    []string `json:"industries"`
	MinSize       int      `json:"minSize"`
	MaxSize       int      `json:"maxSize"`
	Geographies   []string `json:"geographies"`
	MinBudget     int      `json:"minBudget"`
	MaxBudget     int      `json:"maxBudget"`
	RequiredStack []string `json:"requiredStack,omitempty"`
}

// Profile describes the buyer being qualified. Budget, stack, timing and
// authority are optional; their absence lowers confidence rather than
// disqualifying.
type Profile struct {
	Industry    string   `json:"industry"`
	CompanySize int      `json:"companySize"`
	Location    string   `json:"location"`
	Budget      int      `json:"budget,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
	Timing      string   `json:"timing,omitempty"`
	Authority   string   `json:"authority,omitempty"`
}

// Signal is one evaluated qualification criterion.
type Signal struct {
	Name    string  `json:"name"`
	Weight  int     `json:"weight"`
	Value   float64 `json:"value"`
	Matched bool    `json:"matched"`
}

// Result is the outcome of a scoring evaluation.
type Result struct {
	OverallScore   int            `json:"overallScore"`
	Signals        []Signal       `json:"signals"`
	Recommendation Recommendation `json:"recommendation"`
	MissingInfo    []string       `json:"missingInfo"`
}

// intentPhrases are scanned case-insensitively in the email text. Presence of
// any phrase signals explicit purchase intent.
var intentPhrases = []string{
	"looking for",
	"interested in",
	"need a solution",
	"need help",
	"evaluating",
	"searching for",
	"want to buy",
	"in the market",
}

// urgencyWords signal near-term timing when present in the email text.
var urgencyWords = []string{
	"urgent",
	"asap",
	"immediately",
	"right away",
	"this quarter",
	"as soon as possible",
}

// decisionMakerWords mark a buyer contact with purchasing authority.
var decisionMakerWords = []string{
	"ceo", "cto", "cfo", "coo", "founder", "owner",
	"vp", "vice president", "head of", "director", "decision maker",
}

// Score evaluates the buyer profile and email text against the seller's
// criteria. The returned score is an integer in [0,100].
func Score(cfg Config, criteria Criteria, profile Profile, emailText string) Result {
	text := strings.ToLower(emailText)

	signals := []Signal{
		newSignal(cfg, SignalIndustry, industryValue(criteria, profile)),
		newSignal(cfg, SignalSize, sizeValue(criteria, profile)),
		newSignal(cfg, SignalGeography, geographyValue(criteria, profile)),
		newSignal(cfg, SignalIntent, intentValue(text)),
		newSignal(cfg, SignalTiming, timingValue(profile, text)),
		newSignal(cfg, SignalBudget, budgetValue(criteria, profile)),
		newSignal(cfg, SignalAuthority, authorityValue(profile)),
		newSignal(cfg, SignalStack, stackValue(criteria, profile)),
	}

	var weightedSum, totalWeight float64
	for _, s := range signals {
		weightedSum += float64(s.Weight) * s.Value
		totalWeight += float64(s.Weight)
	}
	overall := 0
	if totalWeight > 0 {
		overall = int(100*weightedSum/totalWeight + 0.5)
	}

	return Result{
		OverallScore:   overall,
		Signals:        signals,
		Recommendation: recommend(cfg, overall),
		MissingInfo:    missingInfo(criteria, profile),
	}
}

func newSignal(cfg Config, name string, value float64) Signal {
	return Signal{
		Name:    name,
		Weight:  cfg.Weights[name],
		Value:   value,
		Matched: value >= matchedThreshold,
	}
}

func recommend(cfg Config, overall int) Recommendation {
	switch {
	case overall >= cfg.ProposeThreshold:
		return RecommendProposeMeeting
	case overall >= cfg.ClarifyThreshold:
		return RecommendClarify
	default:
		return RecommendDecline
	}
}

// industryValue is 1 when any target industry is a case-insensitive substring
// of the buyer's industry.
func industryValue(c Criteria, p Profile) float64 {
	if containsAny(strings.ToLower(p.Industry), c.Industries) {
		return 1
	}
	return 0
}

func sizeValue(c Criteria, p Profile) float64 {
	if p.CompanySize >= c.MinSize && p.CompanySize <= c.MaxSize {
		return 1
	}
	return 0
}

func geographyValue(c Criteria, p Profile) float64 {
	if containsAny(strings.ToLower(p.Location), c.Geographies) {
		return 1
	}
	return 0
}

// intentValue never returns 0: absence of explicit intent phrasing is weak
// evidence, not disqualifying.
func intentValue(text string) float64 {
	if containsAny(text, intentPhrases) {
		return 1
	}
	return 0.5
}

func timingValue(p Profile, text string) float64 {
	timing := strings.ToLower(p.Timing)
	if strings.Contains(timing, "q1") || strings.Contains(timing, "immediate") || containsAny(text, urgencyWords) {
		return 1
	}
	if strings.TrimSpace(p.Timing) != "" {
		return 0.7
	}
	return 0.3
}

func budgetValue(c Criteria, p Profile) float64 {
	if p.Budget == 0 {
		return 0.5
	}
	if p.Budget >= c.MinBudget && p.Budget <= c.MaxBudget {
		return 1
	}
	return 0.3
}

func authorityValue(p Profile) float64 {
	if containsAny(strings.ToLower(p.Authority), decisionMakerWords) {
		return 1
	}
	return 0.5
}

func stackValue(c Criteria, p Profile) float64 {
	if len(c.RequiredStack) == 0 {
		return 0.5
	}
	for _, required := range c.RequiredStack {
		for _, have := range p.TechStack {
			if strings.EqualFold(strings.TrimSpace(required), strings.TrimSpace(have)) {
				return 1
			}
		}
	}
	return 0.3
}

// missingInfo lists the optional profile fields a clarifying reply should ask
// about. Tech stack is flagged only when the seller requires one.
func missingInfo(c Criteria, p Profile) []string {
	missing := make([]string, 0, 4)
	if p.Budget == 0 {
		missing = append(missing, "budget")
	}
	if strings.TrimSpace(p.Timing) == "" {
		missing = append(missing, "timing")
	}
	if strings.TrimSpace(p.Authority) == "" {
		missing = append(missing, "authority")
	}
	if len(c.RequiredStack) > 0 && len(p.TechStack) == 0 {
		missing = append(missing, "tech stack")
	}
	return missing
}

// containsAny reports whether any needle is a non-empty case-insensitive
// substring of haystack. haystack must already be lowercased.
func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
