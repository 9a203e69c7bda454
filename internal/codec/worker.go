package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/harrison/flowline/internal/models"
)

var (
	taskIDRe  = regexp.MustCompile(`(?i)\[task-(\d+[a-z]?)\]`)
	stepRe    = regexp.MustCompile(`\((\d+)/(\d+)\)`)
	overviewRe = regexp.MustCompile(`(?is)###\s*Overview\s*\n(.*?)(?:###|\z)`)
	archRe     = regexp.MustCompile(`(?is)###\s*Architecture Decisions\s*\n(.*?)(?:###|\z)`)
	ifaceRe    = regexp.MustCompile(`(?is)###\s*Interfaces Provided\s*\n(.*?)(?:###|\z)`)
	todoRe     = regexp.MustCompile(`-\s*\[([ xX])\]\s*(\d+)\.\s*(.+)`)
	completedRe = regexp.MustCompile(`(\d+)/(\d+)`)
)

// workerCommitKnownSections are the "## " headers DecodeWorkerCommit
// understands. Any other top-level section is preserved on
// models.WorkerCommit.UnknownSections and re-emitted verbatim by
// EncodeWorkerCommit.
var workerCommitKnownSections = map[string]bool{
	"implementation": true,
	"design":         true,
	"todo_list":      true,
	"progress":       true,
}

// DecodeWorkerCommit parses a worker progress commit message into its
// structured form. Malformed pieces surface as warnings rather than aborting:
// an unrecognized title still yields CommitUnknown, a missing step
// annotation leaves Step.Present false, and so on.
func DecodeWorkerCommit(message string) (models.WorkerCommit, []models.ParseWarning) {
	var warnings []models.ParseWarning
	ordered := splitSectionsOrdered(message)
	sections := make(map[string]string, len(ordered))
	for _, s := range ordered {
		sections[s.Key] = s.Body
	}
	title := firstLine(message)

	var wc models.WorkerCommit
	wc.UnknownSections = unknownSections(ordered, workerCommitKnownSections)

	if m := taskIDRe.FindStringSubmatch(title); m != nil {
		wc.TaskID = m[1]
	} else {
		warnings = append(warnings, models.ParseWarning{
			Context: "worker_commit.title",
			Message: fmt.Sprintf("no [task-<id>] prefix found in title %q", title),
		})
	}

	lowerTitle := strings.ToLower(title)
	switch {
	case strings.Contains(lowerTitle, "initialize:"):
		wc.Kind = models.CommitInitialDesign
	case strings.Contains(lowerTitle, "implement:"):
		wc.Kind = models.CommitImplementation
		if m := stepRe.FindStringSubmatch(title); m != nil {
			k, _ := strconv.Atoi(m[1])
			total, _ := strconv.Atoi(m[2])
			wc.Step = models.Step{K: k, Total: total, Present: true}
		}
	default:
		wc.Kind = models.CommitUnknown
		warnings = append(warnings, models.ParseWarning{
			Context: "worker_commit.title",
			Message: fmt.Sprintf("title %q is neither Initialize: nor Implement:", title),
		})
	}

	wc.Implementation = strings.TrimSpace(sections["implementation"])

	if designText, ok := sections["design"]; ok && designText != "" {
		if m := overviewRe.FindStringSubmatch(designText); m != nil {
			wc.Design.Overview = strings.TrimSpace(m[1])
		}
		if m := archRe.FindStringSubmatch(designText); m != nil {
			wc.Design.Decisions = extractBullets(m[1])
		}
		if m := ifaceRe.FindStringSubmatch(designText); m != nil {
			wc.Design.Interfaces = extractBullets(m[1])
		}
	}

	if todoText, ok := sections["todo_list"]; ok && todoText != "" {
		for _, m := range todoRe.FindAllStringSubmatch(todoText, -1) {
			n, _ := strconv.Atoi(m[2])
			wc.TODOs = append(wc.TODOs, models.TODOItem{
				N:           n,
				Description: strings.TrimSpace(m[3]),
				Done:        strings.EqualFold(m[1], "x"),
			})
		}
	}

	if progressText, ok := sections["progress"]; ok && progressText != "" {
		status := extractField(progressText, "Status")
		if status != "" {
			wc.Progress.Status = models.TaskStatus(status)
		}
		completedStr := extractField(progressText, "Completed")
		if completedStr != "" {
			if m := completedRe.FindStringSubmatch(completedStr); m != nil {
				done, _ := strconv.Atoi(m[1])
				total, _ := strconv.Atoi(m[2])
				wc.Progress.Done = done
				wc.Progress.Total = total
				if checked := countChecked(wc.TODOs); len(wc.TODOs) > 0 && checked != done {
					warnings = append(warnings, models.ParseWarning{
						Context: "worker_commit.progress",
						Message: fmt.Sprintf("Completed: line reports %d/%d but %d of %d TODO items are checked", done, total, checked, len(wc.TODOs)),
					})
				}
			} else {
				warnings = append(warnings, models.ParseWarning{
					Context: "worker_commit.progress",
					Message: fmt.Sprintf("Completed field %q did not match N/M", completedStr),
				})
			}
		}
	}

	return wc, warnings
}

func countChecked(todos []models.TODOItem) int {
	n := 0
	for _, t := range todos {
		if t.Done {
			n++
		}
	}
	return n
}

// EncodeWorkerCommit renders a worker commit message in the canonical
// grammar: "[task-<id>] <Initialize|Implement>: <step> (<k>/<total>)" title,
// followed by Implementation, Design, TODO List, and Progress sections.
func EncodeWorkerCommit(wc models.WorkerCommit, summary string) string {
	var b strings.Builder

	verb := "Implement"
	if wc.Kind == models.CommitInitialDesign {
		verb = "Initialize"
	}
	fmt.Fprintf(&b, "[task-%s] %s: %s", wc.TaskID, verb, summary)
	if wc.Step.Present {
		fmt.Fprintf(&b, " (%d/%d)", wc.Step.K, wc.Step.Total)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "## Implementation\n%s\n\n", wc.Implementation)

	b.WriteString("## Design\n")
	fmt.Fprintf(&b, "### Overview\n%s\n\n", wc.Design.Overview)
	b.WriteString("### Architecture Decisions\n")
	for _, d := range wc.Design.Decisions {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\n### Interfaces Provided\n")
	for _, i := range wc.Design.Interfaces {
		fmt.Fprintf(&b, "- %s\n", i)
	}
	b.WriteString("\n")

	b.WriteString("## TODO List\n")
	for _, t := range wc.TODOs {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %d. %s\n", mark, t.N, t.Description)
	}
	b.WriteString("\n")

	b.WriteString("## Progress\n")
	fmt.Fprintf(&b, "Status: %s\n", wc.Progress.Status)
	fmt.Fprintf(&b, "Completed: %d/%d tasks\n", wc.Progress.Done, wc.Progress.Total)

	if len(wc.UnknownSections) > 0 {
		b.WriteString("\n")
		writeUnknownSections(&b, wc.UnknownSections)
		return strings.TrimRight(b.String(), "\n") + "\n"
	}

	return b.String()
}
