// Package parse interprets raw agent output into structured worker
// summaries and reviewer decisions.
//
// Worker turns end with a JSON summary object; reviewer turns end with a
// DECISION marker line. Both arrive embedded in free-form agent text, often
// wrapped in markdown fences or ANSI escapes, so extraction is tolerant:
// fenced JSON is preferred, then brace matching, and malformed JSON gets
// one repair attempt before giving up.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrParse is returned when agent output cannot be interpreted. The loop
// controller maps it to a critical failure, never to silent success.
var ErrParse = errors.New("unparseable agent output")

// maxInputBytes is the maximum output size we will process. Larger inputs
// are rejected to prevent memory exhaustion on runaway sessions.
const maxInputBytes = 10 * 1024 * 1024 // 10 MB

// reANSI matches ANSI escape codes (CSI sequences) that AI CLIs may embed
// in their output. We strip these before parsing.
var reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

// reCodeFence matches a markdown code fence block that optionally carries a
// "json" language tag. The fenced content is captured in subgroup 1.
var reCodeFence = regexp.MustCompile("(?s)```(?:json)?[ \\t]*\n(.*?)\n```")

// reDecision matches the reviewer decision marker line. The decision word
// is captured in subgroup 1 and any trailing text in subgroup 2.
var reDecision = regexp.MustCompile(`(?i)^DECISION:\s*(approve|reject|request_changes)\b[:\s]*(.*)$`)

// Summary is the structured result of a worker turn.
type Summary struct {
	FilesModified []string `json:"files_modified"`
	Note          string   `json:"note"`
}

// Decision is the reviewer's verdict on one iteration.
type Decision string

const (
	// DecisionApprove accepts the work and ends the loop successfully.
	DecisionApprove Decision = "approve"
	// DecisionReject declares the work unsalvageable and fails the loop.
	DecisionReject Decision = "reject"
	// DecisionRequestChanges sends the loop into another iteration.
	DecisionRequestChanges Decision = "request_changes"
)

// Valid returns true for the three known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionRequestChanges:
		return true
	}
	return false
}

// Feedback is the structured result of a reviewer turn.
type Feedback struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback"`
}

// WorkerOutput extracts the summary from a worker turn's output.
//
// The worker prompt asks for a trailing JSON object of the form
// {"files_modified": [...], "note": "..."}. When no such object can be
// found, the whole trimmed output becomes the note: a worker that wrote
// prose instead of JSON still produced reviewable work. Empty output
// yields an empty summary, not an error.
func WorkerOutput(text string) (Summary, error) {
	text, err := sanitize(text)
	if err != nil {
		return Summary{}, err
	}

	raw := extractJSON(text)
	if raw == nil {
		return Summary{Note: strings.TrimSpace(text)}, nil
	}

	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		// The object matched structurally but has the wrong shape.
		return Summary{Note: strings.TrimSpace(text)}, nil
	}
	return s, nil
}

// ReviewerOutput extracts the decision and feedback from a reviewer turn's
// output.
//
// Two grammars are accepted: a marker line "DECISION: <verdict>" with the
// remaining text as feedback, or a JSON object carrying "decision" and
// "feedback" fields. Output with neither is an ErrParse: an unreadable
// review must fail the loop rather than pass silently.
func ReviewerOutput(text string) (Feedback, error) {
	text, err := sanitize(text)
	if err != nil {
		return Feedback{}, err
	}

	if fb, ok := decisionFromMarker(text); ok {
		return fb, nil
	}

	if raw := extractJSON(text); raw != nil {
		var fb Feedback
		if err := json.Unmarshal(raw, &fb); err == nil {
			fb.Decision = Decision(strings.ToLower(string(fb.Decision)))
			if fb.Decision.Valid() {
				return fb, nil
			}
		}
	}

	return Feedback{}, fmt.Errorf("%w: no decision marker in reviewer output", ErrParse)
}

// decisionFromMarker scans for the first DECISION: line. Feedback is the
// marker's trailing text plus all following lines.
func decisionFromMarker(text string) (Feedback, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := reDecision.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		parts := []string{strings.TrimSpace(m[2])}
		parts = append(parts, lines[i+1:]...)
		feedback := strings.TrimSpace(strings.Join(parts, "\n"))
		return Feedback{
			Decision: Decision(strings.ToLower(m[1])),
			Feedback: feedback,
		}, true
	}
	return Feedback{}, false
}

// sanitize strips ANSI escape codes and a leading UTF-8 BOM, then enforces
// the size cap.
func sanitize(text string) (string, error) {
	if len(text) > maxInputBytes {
		return "", fmt.Errorf("%w: input exceeds maximum size of %d bytes", ErrParse, maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	text = reANSI.ReplaceAllString(text, "")
	return text, nil
}

// extractJSON returns the last valid JSON object found in text, preferring
// fenced blocks over bare brace matching. Malformed candidates get one
// repair attempt. Returns nil when no object can be recovered.
//
// The last object wins because agents narrate before summarizing: the
// summary is the final JSON in the output.
func extractJSON(text string) json.RawMessage {
	var candidates []string

	for _, m := range reCodeFence.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, braceCandidates(text)...)

	var found json.RawMessage
	for _, cand := range candidates {
		cand = strings.TrimSpace(cand)
		if cand == "" || cand[0] != '{' {
			continue
		}
		if json.Valid([]byte(cand)) {
			found = json.RawMessage(cand)
			continue
		}
		if repaired, err := jsonrepair.JSONRepair(cand); err == nil && json.Valid([]byte(repaired)) {
			found = json.RawMessage(repaired)
		}
	}
	return found
}

// braceCandidates returns every balanced top-level {...} span in text.
// Strings and escapes are respected so braces inside JSON strings do not
// break the balance count.
func braceCandidates(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}
