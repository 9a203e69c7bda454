package codec

// ExtractProvides pulls the bulleted items out of a merge commit's
// "## Provides" section, if present. Used by the Repository Gateway to
// build the provides frontier by scanning merge commits reachable from
// flow.
func ExtractProvides(mergeCommitMessage string) []string {
	sections := splitSections(mergeCommitMessage)
	return extractBullets(sections["provides"])
}

// EncodeProvidesSection renders a "## Provides" block appended to a merge
// commit message when a completed task's init commit declared provided
// capabilities.
func EncodeProvidesSection(provides []string) string {
	if len(provides) == 0 {
		return ""
	}
	var b []byte
	b = append(b, "## Provides\n"...)
	for _, p := range provides {
		b = append(b, "- "...)
		b = append(b, p...)
		b = append(b, '\n')
	}
	return string(b)
}
