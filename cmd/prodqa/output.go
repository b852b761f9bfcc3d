package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...any) {
	successColor.Fprintln(os.Stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	errorColor.Fprintln(os.Stderr, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	warnColor.Fprintln(os.Stderr, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", boldColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	stepColor.Fprintln(os.Stderr, "→ "+fmt.Sprintf(format, args...))
}

const maxSnippetWidth = 300

// renderHits prints retrieved documents, best first.
func renderHits(w io.Writer, hits []hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, h := range hits {
		header := boldColor.Sprintf("Result %d", i+1)
		if name := metadataLabel(h.Metadata); name != "" {
			header += " " + name
		}
		if h.Score != nil {
			fmt.Fprintf(w, "\n%s [score: %.3f]\n", header, *h.Score)
		} else {
			fmt.Fprintf(w, "\n%s\n", header)
		}
		fmt.Fprintf(w, "  %s\n", truncateText(h.Snippet, maxSnippetWidth))
	}
}

// metadataLabel picks a human-readable name for a product row.
func metadataLabel(md map[string]any) string {
	for _, key := range []string{"name", "title", "product_name"} {
		if v, ok := md[key]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return stepColor.Sprint(s)
			}
		}
	}
	if v, ok := md["row_index"]; ok {
		return stepColor.Sprintf("(row %v)", v)
	}
	return ""
}

func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
