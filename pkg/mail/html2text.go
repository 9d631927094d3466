package mail

import (
	"strings"

	"github.com/k3a/html2text"
)

// HTMLToText converts an HTML body to plain text. It strips tags and
// converts entities to their text equivalents. Used at intake to derive a
// plain body for messages that carry only HTML.
func HTMLToText(htmlBody string) string {
	if htmlBody == "" {
		return ""
	}

	text := html2text.HTML2Text(htmlBody)

	// Clean up excessive whitespace while preserving paragraph breaks
	return cleanupWhitespace(text)
}

// cleanupWhitespace removes excessive blank lines while preserving structure
func cleanupWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	blankCount := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blankCount++
			// Allow max 2 consecutive blank lines
			if blankCount <= 2 {
				result = append(result, "")
			}
		} else {
			blankCount = 0
			result = append(result, line)
		}
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}
