package codec

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harrison/flowline/internal/models"
)

var taskBranchTitleRe = regexp.MustCompile(`(?i)^Initialize (task/\S+)`)

// taskInitKnownSections are the "## " headers DecodeTaskInit understands.
// Any other top-level section is preserved on models.TaskInit.UnknownSections
// and re-emitted verbatim by EncodeTaskInit.
var taskInitKnownSections = map[string]bool{
	"task_metadata": true,
	"dependencies":  true,
	"files":         true,
	"context":       true,
}

// DecodeTaskInit parses a task branch's first commit into a models.TaskInit:
// a "## Task Metadata" block (ID/Description/Status), a "## Dependencies"
// block (Preconditions/Provides bullet lists), a "## Files" block ("Files to
// modify" bullet list), and a "## Context" block (Session Goal/Session
// name/Plan Branch/Plan Version/Depends on/Enables).
//
// Missing optional fields default to an empty list or empty string, never to
// a decode failure.
func DecodeTaskInit(message string) models.TaskInit {
	ordered := splitSectionsOrdered(message)
	sections := make(map[string]string, len(ordered))
	for _, s := range ordered {
		sections[s.Key] = s.Body
	}

	metadata := sections["task_metadata"]
	dependencies := sections["dependencies"]
	files := sections["files"]
	context := sections["context"]

	init := models.TaskInit{
		ID:            extractField(metadata, "ID"),
		Description:   extractField(metadata, "Description"),
		Preconditions: extractList(dependencies, "Preconditions"),
		Provides:      extractList(dependencies, "Provides"),
		Files:         extractList(files, "Files to modify"),
		SessionGoal:   extractField(context, "Session Goal"),
		SessionName:   extractField(context, "Session name"),
		PlanBranch:    extractField(context, "Plan Branch"),
		PlanVersion:   parseVersionNumber(extractField(context, "Plan Version")),
		DependsOn:     extractList(context, "Depends on"),
		Enables:       extractList(context, "Enables"),
		UnknownSections: unknownSections(ordered, taskInitKnownSections),
	}

	if init.ID == "" {
		if m := taskBranchTitleRe.FindStringSubmatch(firstLine(message)); m != nil {
			init.ID = branchTaskID(m[1])
		}
	}

	return init
}

// branchTaskID extracts the leading numeric/alnum id from a
// "task/<id>-<slug>" branch name.
func branchTaskID(branch string) string {
	rest := strings.TrimPrefix(branch, "task/")
	if i := strings.IndexByte(rest, '-'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// EncodeTaskInit renders a task branch's first ("initialize") commit in the
// canonical grammar.
func EncodeTaskInit(init models.TaskInit, branch string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Initialize %s\n\n", branch)

	b.WriteString("## Task Metadata\n")
	fmt.Fprintf(&b, "ID: %s\n", init.ID)
	fmt.Fprintf(&b, "Description: %s\n", init.Description)
	b.WriteString("Status: pending\n\n")

	b.WriteString("## Dependencies\n")
	writeList(&b, "Preconditions", init.Preconditions)
	writeList(&b, "Provides", init.Provides)
	b.WriteString("\n")

	b.WriteString("## Files\n")
	writeList(&b, "Files to modify", init.Files)
	b.WriteString("\n")

	b.WriteString("## Context\n")
	fmt.Fprintf(&b, "Session Goal: %s\n", init.SessionGoal)
	fmt.Fprintf(&b, "Session name: %s\n", init.SessionName)
	fmt.Fprintf(&b, "Plan Branch: %s\n", init.PlanBranch)
	fmt.Fprintf(&b, "Plan Version: v%d\n", init.PlanVersion)
	fmt.Fprintf(&b, "Depends on: %s\n", bracketList(init.DependsOn))
	fmt.Fprintf(&b, "Enables: %s\n", bracketList(init.Enables))
	b.WriteString("\n")

	writeUnknownSections(&b, init.UnknownSections)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func bracketList(items []string) string {
	return "[" + strings.Join(items, ", ") + "]"
}
