package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/worker"
)

const generateSystemPrompt = `You are a code generation worker inside an automated delivery pipeline.
Given an instruction, produce complete, deployable source files.

Respond with a single JSON object and nothing else:
{"files": {"<relative/path>": "<full file content>", ...}, "notes": "<short summary>"}

Rules:
- Every file must be complete; never emit fragments or placeholders.
- Use only relative paths.
- When accumulated context lists earlier outputs, reference those exact
  names and signatures instead of inventing new ones.`

// Generator adapts the client to the pipeline's generation interface.
type Generator struct {
	client *Client
}

// NewGenerator creates a generation adapter over the shared client.
func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

// Generate produces files for one task or sub-batch.
func (g *Generator) Generate(ctx context.Context, req worker.GenerationRequest) (*worker.GenerationResult, error) {
	var prompt strings.Builder
	prompt.WriteString("Phase: " + req.PhaseName + "\n")
	if req.TaskID != "" {
		prompt.WriteString("Tasks: " + req.TaskID + "\n")
	}
	prompt.WriteString("\nInstruction:\n" + req.Instruction + "\n")
	if req.Context != "" {
		prompt.WriteString("\nAccumulated context from earlier work:\n" + req.Context + "\n")
	}
	if req.PreviousFeedback != "" {
		prompt.WriteString("\nThe previous attempt failed. Correct this:\n" + req.PreviousFeedback + "\n")
	}

	content, err := g.client.chat(ctx, generateSystemPrompt, prompt.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Files map[string]string `json:"files"`
		Notes string            `json:"notes"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, errors.Wrapf(err, "malformed generation response: %.200s", content)
	}
	if len(parsed.Files) == 0 {
		return nil, errors.New("generation response contains no files")
	}

	return &worker.GenerationResult{Files: parsed.Files, Notes: parsed.Notes}, nil
}

// extractJSON strips surrounding prose or markdown fences, returning the
// outermost JSON object. Models occasionally wrap their JSON despite
// instructions.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}
