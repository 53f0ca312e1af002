package usecase

import "strings"

// replySeparators mark the start of quoted history in common mail clients.
// A line beginning with any of these truncates the body from that point on.
var replySeparators = []string{
	"-----original message-----",
	"________________________________",
	"forwarded message",
}

// StripQuotedHistory removes quoted reply history from an email body so the
// content generator only sees the new content of the latest message.
//
// Best-effort text heuristic, not a MIME or quote parser: truncate at the
// first reply-separator line ("On ... wrote:", original-message dividers,
// a trailing "From:" header block), drop remaining ">"-quoted lines, trim.
func StripQuotedHistory(body string) string {
	lines := strings.Split(body, "\n")

	cut := len(lines)
	for i, line := range lines {
		if isSeparatorLine(line) {
			cut = i
			break
		}
	}

	kept := make([]string, 0, cut)
	for _, line := range lines[:cut] {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isSeparatorLine(line string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(line))
	if trimmed == "" {
		return false
	}
	// "On Mon, Jan 2, 2006 at 3:04 PM someone wrote:"
	if strings.HasPrefix(trimmed, "on ") && strings.HasSuffix(trimmed, "wrote:") {
		return true
	}
	// Quoted header block of a forwarded message.
	if strings.HasPrefix(trimmed, "from:") {
		return true
	}
	for _, sep := range replySeparators {
		if strings.HasPrefix(trimmed, sep) {
			return true
		}
	}
	return false
}
