// Package tpee implements the Trust & Pricing Enforcement Engine of
// spec.md §4.6: a deterministic, fixed-order gate every task-creation
// proposal passes through before escrow can be held.
package tpee

import (
	"context"
	"regexp"
	"strings"

	"github.com/hustlexp/moneycore/pkg/idgen"
)

// Decision is TPEE's verdict.
type Decision string

const (
	Accept Decision = "ACCEPT"
	Adjust Decision = "ADJUST"
	Block  Decision = "BLOCK"
)

// Proposal is a task-creation draft as submitted to TPEE.
type Proposal struct {
	PosterID    string
	Title       string
	Description string
	Category    string
	City        string
	PriceCents  int64
}

// TrustContext is the poster's identity/trust snapshot (spec.md §4.6 step 5).
type TrustContext struct {
	TrustScore int
}

// TrustLookup fetches a poster's trust context.
type TrustLookup interface {
	Fetch(ctx context.Context, posterID string) (TrustContext, error)
}

// VelocityCounter implements the in-memory token counters of step 6.
type VelocityCounter interface {
	// Increment records one attempt for posterID and reports whether the
	// poster is now over its hourly or daily cap.
	Increment(posterID string) (overLimit bool)
}

// Outcome is TPEE's full verdict (spec.md §4.6).
type Outcome struct {
	Decision             Decision
	RecommendedPrice     int64
	ReasonCode           string
	Confidence           float64
	HumanReviewRequired  bool
	PolicyVersion        string
	EvaluationID         string
	ChecksPassed         []string
	ChecksFailed         []string
}

// PolicyConfig is the per-deployment tunable policy (spec.md §4.6).
type PolicyConfig struct {
	Version              string
	AllowedCategories     map[string]bool
	MinPriceCentsByCity   map[string]int64
	DefaultMinPriceCents  int64
	TrustHardThreshold    int
	TrustWarnThreshold    int
	ShadowMode            bool
}

// hardPatterns are case-insensitive, word-boundary regexes covering the
// categories named in spec.md §4.6 step 2. Prompt-injection patterns are
// classified separately (reasonCode PROMPT_INJECTION_ATTEMPT) from the
// generic policy-violation reasonCode.
var hardPatterns = []struct {
	re             *regexp.Regexp
	promptInjection bool
}{
	{regexp.MustCompile(`(?i)\b(venmo|cashapp|cash app|zelle|pay\s*me\s*directly|off[- ]platform)\b`), false},
	{regexp.MustCompile(`(?i)\b(text me|call me|whatsapp|telegram|contact me outside)\b`), false},
	{regexp.MustCompile(`(?i)\b(reship|re-ship|forward(ing)? (this )?package)\b`), false},
	{regexp.MustCompile(`(?i)\b(verify your (account|identity)|send (your )?(ssn|social security|bank (login|password)))\b`), false},
	{regexp.MustCompile(`(?i)\b(launder(ing)?|structuring|smurfing)\b`), false},
	{regexp.MustCompile(`(?i)\b(escort|onlyfans|nsfw content|adult services)\b`), false},
	{regexp.MustCompile(`(?i)\b(fentanyl|heroin|meth(amphetamine)?|buy drugs)\b`), false},
	{regexp.MustCompile(`(?i)\b(ignore (all )?(previous|prior|above) instructions|disregard (your|the) (system|previous) prompt|you are now|act as (an? )?unrestricted)\b`), true},
}

// Engine evaluates proposals against a fixed policy.
type Engine struct {
	Policy   PolicyConfig
	Trust    TrustLookup
	Velocity VelocityCounter
}

// Evaluate runs the six checks of spec.md §4.6 in strict, never-reordered
// sequence. In shadow mode, the caller should treat the outcome as ACCEPT
// regardless of Decision; the full Outcome is still returned for logging.
func (e *Engine) Evaluate(ctx context.Context, p Proposal) (Outcome, error) {
	out := Outcome{
		EvaluationID:  idgen.NewID().String(),
		PolicyVersion: e.Policy.Version,
		Confidence:    1.0,
	}

	check := func(name string, passed bool) {
		if passed {
			out.ChecksPassed = append(out.ChecksPassed, name)
		} else {
			out.ChecksFailed = append(out.ChecksFailed, name)
		}
	}

	// 1. Schema.
	schemaOK := len(p.Title) >= 3 && len(p.Description) >= 10 && p.Category != "" && p.PriceCents > 0 && p.PosterID != ""
	check("schema", schemaOK)

	if !schemaOK {
		out.Decision = Block
		out.ReasonCode = "INSUFFICIENT_INFO"
		return out, nil
	}

	// 2. Hard-pattern scan.
	haystack := strings.ToLower(p.Title + " " + p.Description)

	for _, pat := range hardPatterns {
		if pat.re.MatchString(haystack) {
			check("hard_pattern_scan", false)

			out.Decision = Block
			out.HumanReviewRequired = true

			if pat.promptInjection {
				out.ReasonCode = "PROMPT_INJECTION_ATTEMPT"
			} else {
				out.ReasonCode = "POLICY_VIOLATION"
			}

			return out, nil
		}
	}

	check("hard_pattern_scan", true)

	// 3. Category allow-list.
	categoryOK := e.Policy.AllowedCategories == nil || e.Policy.AllowedCategories[p.Category]
	check("category_allowlist", categoryOK)

	if !categoryOK {
		out.Decision = Block
		out.ReasonCode = "CATEGORY_NOT_ALLOWED"
		return out, nil
	}

	// 4. Price floor.
	floor := e.Policy.DefaultMinPriceCents
	if cityFloor, ok := e.Policy.MinPriceCentsByCity[p.City]; ok {
		floor = cityFloor
	}

	if p.PriceCents < floor {
		check("price_floor", false)

		out.Decision = Adjust
		out.RecommendedPrice = floor
		out.ReasonCode = "PRICE_BELOW_FLOOR"

		return out, nil
	}

	check("price_floor", true)

	// 5. Trust gating.
	trust, err := e.Trust.Fetch(ctx, p.PosterID)
	if err != nil {
		return out, err
	}

	if trust.TrustScore < e.Policy.TrustHardThreshold {
		check("trust_gating", false)

		out.Decision = Block
		out.HumanReviewRequired = true
		out.ReasonCode = "TRUST_TOO_LOW"

		return out, nil
	}

	if trust.TrustScore < e.Policy.TrustWarnThreshold {
		out.Confidence = 0.7
	}

	check("trust_gating", true)

	// 6. Velocity.
	if e.Velocity.Increment(p.PosterID) {
		check("velocity", false)

		out.Decision = Block
		out.ReasonCode = "VELOCITY_EXCEEDED"

		return out, nil
	}

	check("velocity", true)

	out.Decision = Accept

	return out, nil
}
