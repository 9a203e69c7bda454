// Package planner turns a user request (or a prior plan plus new learnings)
// into a models.Plan by driving a single agent-runtime session and decoding
// its JSON response. It never touches the Repository Gateway directly — the
// Scheduler persists whatever Plan this package returns.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/harrison/flowline/internal/agentrt"
	"github.com/harrison/flowline/internal/logger"
	"github.com/harrison/flowline/internal/models"
)

// systemPreamble enforces JSON-only output by folding the output contract
// into the prompt text itself rather than relying on the agent's default
// behavior.
const systemPreamble = "Your ONLY output must be one JSON object matching the schema described below. " +
	"No markdown, no code fences, no prose outside the JSON."

// Request is the input to Generate: a fresh planning pass.
type Request struct {
	SessionName   string
	UserRequest   string
	DesignDoc     string
	TechStack     string
	KnownProvides []string
}

// ReplanRequest is the input to Replan: a planning pass informed by a prior
// plan and why it needs revision.
type ReplanRequest struct {
	Request
	PriorPlan      models.Plan
	FailureContext string
}

// Planner drives an agentrt.Runtime session to produce plan JSON.
type Planner struct {
	runtime agentrt.Runtime
	model   string
	log     logger.Logger
}

// New constructs a Planner. model may be empty to use the runtime's default.
func New(runtime agentrt.Runtime, model string, log logger.Logger) *Planner {
	if log == nil {
		log = logger.Discard
	}
	return &Planner{runtime: runtime, model: model, log: log}
}

// Generate produces a brand-new Plan from req.
func (p *Planner) Generate(ctx context.Context, req Request) (models.Plan, error) {
	prompt := buildPlanningPrompt(req)
	payload, err := p.runSession(ctx, prompt, req.SessionName)
	if err != nil {
		return models.Plan{}, err
	}
	plan, err := decodePlanPayload(payload)
	if err != nil {
		return models.Plan{}, err
	}
	plan.SessionName = req.SessionName
	plan.Goal = req.UserRequest
	if plan.DesignDoc == "" {
		plan.DesignDoc = req.DesignDoc
	}
	if plan.TechStack == "" {
		plan.TechStack = req.TechStack
	}
	return plan, nil
}

// Replan produces a revised Plan derived from req.PriorPlan. Once the
// agent's response decodes, already completed tasks are carried over
// verbatim, so a partial agent response can never silently drop completed
// work; a malformed response is returned as an error.
func (p *Planner) Replan(ctx context.Context, req ReplanRequest) (models.Plan, error) {
	prompt := buildReplanPrompt(req)
	payload, err := p.runSession(ctx, prompt, req.SessionName)
	if err != nil {
		return models.Plan{}, err
	}
	plan, err := decodePlanPayload(payload)
	if err != nil {
		return models.Plan{}, err
	}
	plan.SessionName = req.PriorPlan.SessionName
	plan.Goal = req.PriorPlan.Goal
	if plan.DesignDoc == "" {
		plan.DesignDoc = req.PriorPlan.DesignDoc
	}
	if plan.TechStack == "" {
		plan.TechStack = req.PriorPlan.TechStack
	}
	plan = preserveCompleted(req.PriorPlan, plan)
	return plan, nil
}

// preserveCompleted overwrites any task in next that corresponds (by id) to
// an already-completed task in prior with prior's exact recorded state, and
// appends any completed prior task next dropped entirely. This is the
// mechanical half of the "replanning must not resurrect completed work"
// guarantee; the scheduler separately rejects a response that still manages
// to flip a completed task's status.
func preserveCompleted(prior, next models.Plan) models.Plan {
	completed := make(map[string]models.Task, len(prior.Tasks))
	for _, t := range prior.Tasks {
		if t.Status == models.StatusCompleted {
			completed[t.ID] = t.Clone()
		}
	}

	seen := make(map[string]bool, len(next.Tasks))
	for i, t := range next.Tasks {
		if c, ok := completed[t.ID]; ok {
			next.Tasks[i] = c
			seen[t.ID] = true
		}
	}
	for id, t := range completed {
		if !seen[id] {
			next.Tasks = append(next.Tasks, t)
		}
	}
	return next
}

// runSession starts one agent session, drains its message stream into a
// single JSON candidate string, and waits for it to exit cleanly.
func (p *Planner) runSession(ctx context.Context, prompt, sessionName string) (string, error) {
	sess, err := p.runtime.Start(ctx, ".", agentrt.SessionOptions{
		Instructions: systemPreamble + "\n\n" + prompt,
		SessionName:  sessionName,
		Model:        p.model,
	})
	if err != nil {
		return "", &models.AgentRuntimeError{Phase: models.PhaseInit, Err: err}
	}

	var lines []string
	for msg := range sess.Messages() {
		if msg.Kind == agentrt.MessageOutput {
			lines = append(lines, msg.Text)
		} else {
			p.log.Debugf("planner session %s stderr: %s", sessionName, msg.Text)
		}
	}
	if err := sess.Wait(); err != nil {
		return "", err
	}

	payload := extractJSON(collectContent(lines))
	if payload == "" {
		return "", &models.ValidationError{Message: "planner session produced no parseable JSON output"}
	}
	return payload, nil
}

// collectContent applies a fixed field-precedence per streamed line —
// structured_output, then result, then content — falling back to the raw
// line when none match, so a plain non-JSON-wrapped line still contributes
// text.
func collectContent(lines []string) string {
	var b strings.Builder
	for _, line := range lines {
		var wrapper map[string]any
		if err := json.Unmarshal([]byte(line), &wrapper); err != nil {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		if so, ok := wrapper["structured_output"]; ok && so != nil {
			if m, ok := so.(map[string]any); ok && len(m) > 0 {
				if encoded, err := json.Marshal(so); err == nil {
					b.Write(encoded)
					b.WriteByte('\n')
					continue
				}
			}
		}
		if r, ok := wrapper["result"].(string); ok {
			b.WriteString(r)
			b.WriteByte('\n')
			continue
		}
		if c, ok := wrapper["content"].(string); ok {
			b.WriteString(c)
			b.WriteByte('\n')
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// extractJSON finds the outermost { ... } span in s, tolerating stray prose
// or log lines the agent emitted alongside its JSON answer.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

type taskPayload struct {
	ID            string   `json:"id"`
	Description   string   `json:"description"`
	DependsOn     []string `json:"depends_on"`
	Preconditions []string `json:"preconditions"`
	Provides      []string `json:"provides"`
	KeyFiles      []string `json:"key_files"`
	Priority      string   `json:"priority"`
	EstimatedTime string   `json:"estimated_time"`
}

type planPayload struct {
	Goal      string        `json:"goal"`
	DesignDoc string        `json:"design_doc"`
	TechStack string        `json:"tech_stack"`
	Tasks     []taskPayload `json:"tasks"`
}

func decodePlanPayload(raw string) (models.Plan, error) {
	var dto planPayload
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return models.Plan{}, &models.ValidationError{Message: fmt.Sprintf("planner output is not valid plan JSON: %v", err)}
	}
	if len(dto.Tasks) == 0 {
		return models.Plan{}, &models.ValidationError{Message: "planner produced a plan with no tasks"}
	}

	plan := models.Plan{
		Version:   1,
		Goal:      dto.Goal,
		DesignDoc: dto.DesignDoc,
		TechStack: dto.TechStack,
	}
	for _, tp := range dto.Tasks {
		if tp.ID == "" {
			return models.Plan{}, &models.ValidationError{Message: "planner task missing id"}
		}
		priority := models.Priority(tp.Priority)
		if priority == "" {
			priority = models.PriorityMedium
		}
		plan.Tasks = append(plan.Tasks, models.Task{
			ID:            tp.ID,
			Description:   tp.Description,
			Status:        models.StatusPending,
			DependsOn:     tp.DependsOn,
			Preconditions: tp.Preconditions,
			Provides:      tp.Provides,
			KeyFiles:      tp.KeyFiles,
			Priority:      priority,
			EstimatedTime: tp.EstimatedTime,
		})
	}
	return plan, nil
}

// NewSessionName returns a short, correlation-friendly session identifier
// for a fresh planning run.
func NewSessionName() string {
	return uuid.NewString()[:8]
}

func buildPlanningPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n\n", req.UserRequest)
	if req.DesignDoc != "" {
		fmt.Fprintf(&b, "Existing design doc:\n%s\n\n", req.DesignDoc)
	}
	if len(req.KnownProvides) > 0 {
		fmt.Fprintf(&b, "Capabilities already provided by merged work: %s\n\n", strings.Join(req.KnownProvides, ", "))
	}
	b.WriteString(planSchemaPrompt)
	return b.String()
}

func buildReplanPrompt(req ReplanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prior plan (session %s, v%d) for request:\n%s\n\n", req.PriorPlan.SessionName, req.PriorPlan.Version, req.PriorPlan.Goal)
	b.WriteString("Prior tasks:\n")
	for _, t := range req.PriorPlan.Tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s (depends_on=%v)\n", t.Status, t.ID, t.Description, t.DependsOn)
	}
	if req.FailureContext != "" {
		fmt.Fprintf(&b, "\nWhat changed since the prior plan:\n%s\n", req.FailureContext)
	}
	if len(req.UserRequest) > 0 {
		fmt.Fprintf(&b, "\nAdditional requirements from the user:\n%s\n", req.UserRequest)
	}
	b.WriteString("\nAlready-completed tasks must reappear with identical id, description, and status. ")
	b.WriteString("You may revise pending or failed tasks, split them, add new ones, or change dependencies, ")
	b.WriteString("but never move a completed task back to pending.\n\n")
	b.WriteString(planSchemaPrompt)
	return b.String()
}

const planSchemaPrompt = `Respond with one JSON object of this shape:
{
  "goal": "string",
  "design_doc": "string",
  "tech_stack": "string",
  "tasks": [
    {
      "id": "string, stable short identifier",
      "description": "string",
      "depends_on": ["task ids"],
      "preconditions": ["provides-frontier strings this task needs"],
      "provides": ["capability strings this task contributes once merged"],
      "key_files": ["paths this task will touch"],
      "priority": "low|medium|high",
      "estimated_time": "free text, e.g. 30m"
    }
  ]
}`
