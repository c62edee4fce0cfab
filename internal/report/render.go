package report

import (
	"fmt"
	"io"

	"lawgraph/internal/validator"
)

// Render writes a human-readable violation report.
func Render(w io.Writer, violations []validator.Violation) {
	if len(violations) == 0 {
		fmt.Fprintln(w, "✅ No violations found.")
		return
	}

	errors, warnings := 0, 0
	for _, v := range violations {
		switch v.Severity {
		case validator.SeverityError:
			errors++
		case validator.SeverityWarning:
			warnings++
		}
	}
	fmt.Fprintf(w, "Found %d violation(s): %d error(s), %d warning(s)\n\n", len(violations), errors, warnings)

	for _, v := range violations {
		marker := "ℹ️"
		switch v.Severity {
		case validator.SeverityError:
			marker = "❌"
		case validator.SeverityWarning:
			marker = "⚠️"
		}
		fmt.Fprintf(w, "%s [%s] %s\n", marker, v.Type, v.Message)
		if v.Location.File != "" {
			fmt.Fprintf(w, "   at %s:%d\n", v.Location.File, v.Location.StartLine)
		}
		if v.SuggestedFix != "" {
			fmt.Fprintf(w, "   fix: %s\n", v.SuggestedFix)
		}
	}
}
