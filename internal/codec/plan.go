package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/harrison/flowline/internal/models"
)

var (
	taskHeaderRe  = regexp.MustCompile(`(?s)### Task (\S+)\s*\n(.*?)(?:\n### Task |\z)`)
	taskHeaderAll = regexp.MustCompile(`(?m)^### Task`)
	planVersionRe = regexp.MustCompile(`(?i)v(\d+)`)
)

// planKnownSections are the "## " headers DecodePlan understands. Any other
// top-level section in a plan commit is preserved on models.Plan.UnknownSections
// and re-emitted verbatim by EncodePlan, so a newer grammar's extra sections
// survive a round trip through an older decoder.
var planKnownSections = map[string]bool{
	"session_information": true,
	"design_doc":          true,
	"technology_stack":    true,
	"tasks":               true,
}

// DecodePlan parses the latest plan commit on a plan/<session> branch into a
// models.Plan: a "## Session Information" block (Session name / User
// Request / Plan Version), free-text "## Design Doc" and "## Technology
// Stack" sections, and a "## Tasks" section holding one "### Task <id>"
// block per task with ID/Description/Status/Depends on/Key files/Priority
// fields.
//
// Sections are split on "##" headers and each task block runs to the next
// "### Task" header or end of message. A malformed header (no id, e.g.
// "### Task \n") is reported as a ParseWarning rather than aborting the scan
// of the rest of the plan.
func DecodePlan(message, branch string) (models.Plan, []models.ParseWarning) {
	var warnings []models.ParseWarning
	ordered := splitSectionsOrdered(message)
	sections := make(map[string]string, len(ordered))
	for _, s := range ordered {
		sections[s.Key] = s.Body
	}

	sessionText := sections["session_information"]

	version := extractField(sessionText, "Plan Version")
	if version == "" {
		title := firstLine(message)
		if m := planVersionRe.FindStringSubmatch(title); m != nil {
			version = "v" + m[1]
		}
	}
	if version == "" {
		version = "v1"
	}

	plan := models.Plan{
		Branch:      branch,
		Version:     parseVersionNumber(version),
		SessionName: extractField(sessionText, "Session name"),
		Goal:        extractField(sessionText, "User Request"),
		DesignDoc:   sections["design_doc"],
		TechStack:   sections["technology_stack"],
		UnknownSections: unknownSections(ordered, planKnownSections),
	}

	tasksText := sections["tasks"]
	headerLocs := taskHeaderAll.FindAllStringIndex(tasksText, -1)
	headerCount := len(headerLocs)
	var taskBlocks [][]string
	for i, loc := range headerLocs {
		end := len(tasksText)
		if i+1 < len(headerLocs) {
			end = headerLocs[i+1][0]
		}
		if m := taskHeaderRe.FindStringSubmatch(tasksText[loc[0]:end]); m != nil {
			taskBlocks = append(taskBlocks, m)
		}
	}
	if headerCount > len(taskBlocks) {
		warnings = append(warnings, models.ParseWarning{
			Context: "plan.malformed_task_header",
			Message: fmt.Sprintf("found %d task sections but only %d have valid ids; task headers must read '### Task 001'", headerCount, len(taskBlocks)),
		})
		if strings.Contains(tasksText, "### Task \n") || strings.Contains(tasksText, "### Task\n") {
			warnings = append(warnings, models.ParseWarning{
				Context: "plan.missing_task_id",
				Message: "found task headers without ids; those tasks were not parsed",
			})
		}
	}

	for _, m := range taskBlocks {
		id, body := m[1], m[2]
		dependsOn := parseCSVOrNone(extractField(body, "Depends on"))
		keyFiles := parseCSVOrNone(extractField(body, "Key files"))
		plan.Tasks = append(plan.Tasks, models.Task{
			ID:            firstNonEmpty(extractField(body, "ID"), id),
			Description:   extractField(body, "Description"),
			Status:        models.TaskStatus(strings.ToLower(extractField(body, "Status"))),
			DependsOn:     dependsOn,
			KeyFiles:      keyFiles,
			Priority:      models.Priority(strings.ToLower(extractField(body, "Priority"))),
			EstimatedTime: extractField(body, "Estimated Time"),
			PlanBranch:    branch,
			PlanVersion:   plan.Version,
			SessionName:   plan.SessionName,
		})
	}

	return plan, warnings
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// parseCSVOrNone splits a comma-separated field, treating the literal value
// "None" (case-insensitive) as an explicitly empty list rather than a single
// item named "None".
func parseCSVOrNone(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, "None") {
		return nil
	}
	parts := strings.Split(field, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseVersionNumber(v string) int {
	v = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "v")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1
	}
	return n
}

// csvOrNone renders a string slice as a comma-separated list, or the literal
// "None" when empty.
func csvOrNone(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}

// EncodePlan renders a plan commit message in the canonical grammar: an
// "Initialize execution plan v<N>" (or "Update" for replans) title, a
// Session Information block, Design Doc and Technology Stack free-text
// sections, and a Tasks section with one "### Task <id>" block per task.
// This is a full-snapshot encoding — every call renders the complete plan,
// never a diff.
func EncodePlan(plan models.Plan, update bool) string {
	var b strings.Builder

	verb := "Initialize"
	if update {
		verb = "Update"
	}
	fmt.Fprintf(&b, "%s execution plan v%d\n\n", verb, plan.Version)

	b.WriteString("## Session Information\n")
	fmt.Fprintf(&b, "Session name: %s\n", plan.SessionName)
	fmt.Fprintf(&b, "User Request: %s\n", plan.Goal)
	fmt.Fprintf(&b, "Plan Version: v%d\n\n", plan.Version)

	fmt.Fprintf(&b, "## Design Doc\n%s\n\n", plan.DesignDoc)

	fmt.Fprintf(&b, "## Technology Stack\n%s\n\n", plan.TechStack)

	b.WriteString("## Tasks\n")
	for _, t := range plan.Tasks {
		fmt.Fprintf(&b, "### Task %s\n", t.ID)
		fmt.Fprintf(&b, "ID: %s\n", t.ID)
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
		fmt.Fprintf(&b, "Status: %s\n", t.Status)
		fmt.Fprintf(&b, "Depends on: %s\n", csvOrNone(t.DependsOn))
		fmt.Fprintf(&b, "Key files: %s\n", csvOrNone(t.KeyFiles))
		if t.Priority != "" {
			fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
		}
		if t.EstimatedTime != "" {
			fmt.Fprintf(&b, "Estimated Time: %s\n", t.EstimatedTime)
		}
		b.WriteString("\n")
	}

	writeUnknownSections(&b, plan.UnknownSections)

	return strings.TrimRight(b.String(), "\n") + "\n"
}
