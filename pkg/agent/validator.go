package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
)

// VerdictStatus is the outcome of plan validation.
type VerdictStatus string

// Verdict statuses. Only feasible and revised proceed to SQL synthesis.
const (
	VerdictFeasible   VerdictStatus = "feasible"
	VerdictRevised    VerdictStatus = "revised"
	VerdictInfeasible VerdictStatus = "infeasible"
)

// Verdict is the validator's judgment of a plan. Steps carries the
// (possibly revised) plan for the statuses that proceed.
type Verdict struct {
	Status    VerdictStatus
	Steps     []string
	Rationale string
}

// Validator is the feasibility gate between planning and SQL synthesis.
// It is authoritative: a plan referencing identifiers absent from the
// context never reaches the synthesizer.
type Validator struct {
	llm     *llm.Client
	prompts *prompt.Builder
	logger  *slog.Logger
}

// NewValidator creates a validator.
func NewValidator(client *llm.Client, prompts *prompt.Builder, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{llm: client, prompts: prompts, logger: logger}
}

// Validate checks a plan against the context. Unknown identifiers make
// the plan infeasible unless a near-match substitution exists; the LLM
// then judges semantic feasibility of the (possibly substituted) plan.
func (v *Validator) Validate(ctx context.Context, sessionID, utterance string, steps []string, dctx *dbcontext.Context) (Verdict, error) {
	steps, lexRationale, unknown := substituteIdentifiers(steps, dctx)
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Verdict{
			Status: VerdictInfeasible,
			Rationale: fmt.Sprintf(
				"the plan references %s, which do not exist in the dataset",
				strings.Join(unknown, ", ")),
		}, nil
	}

	out, err := v.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  v.prompts.BuildValidateMessages(utterance, steps, dctx),
	})
	if err != nil {
		return Verdict{}, NewStageError(StagePlan, err)
	}

	verdict := parseVerdict(out, steps, v.logger)
	if lexRationale != "" {
		if verdict.Status == VerdictFeasible {
			verdict.Status = VerdictRevised
			verdict.Rationale = lexRationale
		} else if verdict.Status == VerdictRevised {
			verdict.Rationale = lexRationale + "; " + verdict.Rationale
		}
	}
	return verdict, nil
}

func parseVerdict(out string, steps []string, logger *slog.Logger) Verdict {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	head := strings.ToUpper(strings.TrimSpace(lines[0]))

	switch {
	case strings.HasPrefix(head, "FEASIBLE"):
		return Verdict{Status: VerdictFeasible, Steps: steps}

	case strings.HasPrefix(head, "INFEASIBLE"):
		return Verdict{Status: VerdictInfeasible, Rationale: afterColon(lines[0])}

	case strings.HasPrefix(head, "REVISED"):
		revised := ParseListLines(strings.Join(lines[1:], "\n"))
		if len(revised) == 0 {
			revised = steps
		}
		return Verdict{Status: VerdictRevised, Steps: revised, Rationale: afterColon(lines[0])}
	}

	logger.Warn("Plan validator returned an unrecognized verdict, treating as feasible",
		"head", lines[0])
	return Verdict{Status: VerdictFeasible, Steps: steps}
}

func afterColon(line string) string {
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return strings.TrimSpace(line)
}

// identifier-shaped tokens in prose: dotted pairs and snake_case words.
var planIdentPattern = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9]*(?:[._][a-zA-Z0-9]+)+\b`)

// plain words the plan marks as relations: "the products table",
// "column category".
var (
	beforeMarkerPattern = regexp.MustCompile(`\b([a-zA-Z][a-zA-Z0-9_]*)\s+(?:table|column)s?\b`)
	afterMarkerPattern  = regexp.MustCompile(`\b(?:table|column)s?\s+([a-zA-Z][a-zA-Z0-9_]*)\b`)
)

// prose words that precede or follow "table"/"column" without naming one.
var markerStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "each": true, "every": true,
	"this": true, "that": true, "its": true, "one": true, "same": true,
	"given": true, "first": true, "second": true, "source": true,
	"resulting": true, "target": true, "relevant": true, "matching": true,
	"corresponding": true, "appropriate": true, "entire": true,
	"whole": true, "single": true, "new": true, "of": true, "in": true,
	"from": true, "and": true, "or": true, "by": true, "per": true,
	"named": true, "called": true, "with": true, "for": true, "to": true,
	"on": true, "count": true, "values": true, "value": true,
	"names": true, "name": true,
}

// planCandidates extracts every token in a step that plausibly names a
// table or column.
func planCandidates(step string) []string {
	var out []string
	out = append(out, planIdentPattern.FindAllString(step, -1)...)
	for _, m := range beforeMarkerPattern.FindAllStringSubmatch(step, -1) {
		if w := m[1]; !markerStopwords[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	for _, m := range afterMarkerPattern.FindAllStringSubmatch(step, -1) {
		if w := m[1]; !markerStopwords[strings.ToLower(w)] {
			out = append(out, w)
		}
	}
	return out
}

// substituteIdentifiers scans plan prose for identifier-shaped tokens,
// replaces near-matches with their context spelling, and reports tokens
// with no match at all.
func substituteIdentifiers(steps []string, dctx *dbcontext.Context) (out []string, rationale string, unknown []string) {
	known := knownIdentifiers(dctx)

	out = make([]string, len(steps))
	copy(out, steps)

	var substituted []string
	seenSub := map[string]bool{}
	seenUnknown := map[string]bool{}

	for i, step := range out {
		for _, tok := range planCandidates(step) {
			lower := strings.ToLower(tok)
			if known[lower] {
				continue
			}
			if match := nearMatch(lower, known); match != "" {
				out[i] = strings.ReplaceAll(out[i], tok, match)
				if !seenSub[lower] {
					seenSub[lower] = true
					substituted = append(substituted, fmt.Sprintf("%s -> %s", tok, match))
				}
				continue
			}
			if !seenUnknown[lower] {
				seenUnknown[lower] = true
				unknown = append(unknown, fmt.Sprintf("%q", tok))
			}
		}
	}

	if len(substituted) > 0 {
		rationale = "substituted dataset names: " + strings.Join(substituted, ", ")
	}
	return out, rationale, unknown
}

// knownIdentifiers collects every name a plan may legitimately reference:
// physical and logical table names, column names, and table.column pairs.
func knownIdentifiers(dctx *dbcontext.Context) map[string]bool {
	known := map[string]bool{}
	for _, t := range dctx.Tables {
		known[strings.ToLower(t.Table.PhysicalName)] = true
		known[strings.ToLower(t.Table.Name)] = true
		for _, col := range t.Table.Columns {
			known[strings.ToLower(col.Name)] = true
			known[strings.ToLower(t.Table.PhysicalName)+"."+strings.ToLower(col.Name)] = true
		}
	}
	return known
}

// nearMatch finds a context identifier that differs from tok only by
// pluralization or a small edit, preferring the cheaper transformation.
func nearMatch(tok string, known map[string]bool) string {
	if strings.HasSuffix(tok, "s") && known[strings.TrimSuffix(tok, "s")] {
		return strings.TrimSuffix(tok, "s")
	}
	if known[tok+"s"] {
		return tok + "s"
	}
	if len(tok) >= 5 {
		// Deterministic choice: the lexicographically smallest candidate
		// within edit distance, so repeated validation of the same plan
		// always lands on the same substitution.
		best := ""
		for candidate := range known {
			if editDistanceAtMost(tok, candidate, 2) && (best == "" || candidate < best) {
				best = candidate
			}
		}
		return best
	}
	return ""
}

// editDistanceAtMost reports whether the Levenshtein distance between a
// and b is within max. Bounded early exit keeps it cheap for plan-sized
// inputs.
func editDistanceAtMost(a, b string, max int) bool {
	if abs(len(a)-len(b)) > max {
		return false
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > max {
			return false
		}
		prev, curr = curr, prev
	}
	return prev[len(b)] <= max
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
