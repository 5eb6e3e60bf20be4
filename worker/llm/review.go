package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/worker"
)

const reviewSystemPrompt = `You are a code review worker inside an automated delivery pipeline.
Judge whether the submitted files are complete, internally consistent,
and deployable as a unit.

Respond with a single JSON object and nothing else:
{"passed": true|false, "feedback": "<actionable findings when failing, empty when passing>"}

Fail the review for: incomplete files, references to undefined
components, syntax errors, or contradictions between files. Do not fail
for style preferences.`

// Reviewer adapts the client to the pipeline's review interface.
type Reviewer struct {
	client *Client
}

// NewReviewer creates a review adapter over the shared client.
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review judges a phase's aggregated output.
func (r *Reviewer) Review(ctx context.Context, req worker.ReviewRequest) (*worker.ReviewResult, error) {
	paths := make([]string, 0, len(req.Files))
	for path := range req.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var prompt strings.Builder
	prompt.WriteString("Phase: " + req.PhaseName + "\n\n")
	for _, path := range paths {
		fmt.Fprintf(&prompt, "--- %s ---\n%s\n\n", path, req.Files[path])
	}

	content, err := r.client.chat(ctx, reviewSystemPrompt, prompt.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Passed   bool   `json:"passed"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, errors.Wrapf(err, "malformed review response: %.200s", content)
	}
	if !parsed.Passed && parsed.Feedback == "" {
		parsed.Feedback = "review failed without specific findings"
	}

	return &worker.ReviewResult{Passed: parsed.Passed, Feedback: parsed.Feedback}, nil
}
