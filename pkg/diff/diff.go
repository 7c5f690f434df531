// Package diff parses unified diffs into per-file added lines and runs
// deterministic pattern checks over them. It backs the no-completer
// fallbacks: even without an AI provider the fleet reports what a
// plain scan of the change can see.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// Line is one added line with its position in the new file.
type Line struct {
	Number int
	Text   string
}

// FileDiff is the per-file view of a unified diff.
type FileDiff struct {
	Path    string
	Added   []Line
	Removed int
}

var hunkRe = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// Parse splits a unified diff into per-file changes. Input that is not
// a unified diff yields no files.
func Parse(raw string) []FileDiff {
	var (
		out     []FileDiff
		current *FileDiff
		newLine int
		inHunk  bool
	)

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			path := strings.TrimPrefix(line, "+++ ")
			path = strings.TrimPrefix(path, "b/")
			out = append(out, FileDiff{Path: path})
			current = &out[len(out)-1]
			inHunk = false

		case strings.HasPrefix(line, "--- "):
			inHunk = false

		case strings.HasPrefix(line, "@@"):
			m := hunkRe.FindStringSubmatch(line)
			if m == nil || current == nil {
				inHunk = false
				continue
			}
			newLine, _ = strconv.Atoi(m[1])
			inHunk = true

		case !inHunk || current == nil:

		case strings.HasPrefix(line, "+"):
			current.Added = append(current.Added, Line{Number: newLine, Text: line[1:]})
			newLine++

		case strings.HasPrefix(line, "-"):
			current.Removed++

		default:
			newLine++
		}
	}
	return out
}

// Files returns the changed file paths in diff order.
func Files(raw string) []string {
	fds := Parse(raw)
	out := make([]string, len(fds))
	for i, fd := range fds {
		out[i] = fd.Path
	}
	return out
}

// Finding is one pattern-check hit on an added line.
type Finding struct {
	Type           string
	Severity       string
	File           string
	Line           int
	Description    string
	Recommendation string
}

type pattern struct {
	re             *regexp.Regexp
	typ            string
	severity       string
	description    string
	recommendation string
}

// Checks are intentionally narrow: each one flags a construction that
// is almost never right in committed code. Anything subtler is the AI
// scan's job.
var patterns = []pattern{
	{
		re:             regexp.MustCompile(`(?i)(?:f["']|["'].*["']\s*%|\+\s*\w+\s*\+?).*\b(?:SELECT|INSERT|UPDATE|DELETE)\b.*\b(?:FROM|INTO|SET|WHERE)\b`),
		typ:            "sql_injection",
		severity:       "critical",
		description:    "SQL statement built with string interpolation",
		recommendation: "Use parameterized queries",
	},
	{
		re:             regexp.MustCompile(`(?i)\w*(?:password|passwd|secret|api_key|apikey|access_token)\s*[:=]\s*["'][^"']{4,}["']`),
		typ:            "hardcoded_secret",
		severity:       "high",
		description:    "Credential assigned from a string literal",
		recommendation: "Load secrets from the environment or a secret store",
	},
	{
		re:             regexp.MustCompile(`\beval\s*\(|\bexec\s*\(`),
		typ:            "code_injection",
		severity:       "high",
		description:    "Dynamic code execution",
		recommendation: "Remove eval/exec or strictly validate the input",
	},
	{
		re:             regexp.MustCompile(`shell\s*=\s*True|os\.system\s*\(`),
		typ:            "command_injection",
		severity:       "high",
		description:    "Shell command execution",
		recommendation: "Invoke the binary directly with an argument list",
	},
	{
		re:             regexp.MustCompile(`(?i)\b(?:md5|sha1)\s*\(`),
		typ:            "weak_hash",
		severity:       "medium",
		description:    "Weak hash algorithm",
		recommendation: "Use SHA-256 or better; for passwords use bcrypt/argon2",
	},
}

// Scan runs the pattern checks over every added line.
func Scan(files []FileDiff) []Finding {
	var out []Finding
	for _, fd := range files {
		for _, line := range fd.Added {
			for _, p := range patterns {
				if !p.re.MatchString(line.Text) {
					continue
				}
				out = append(out, Finding{
					Type:           p.typ,
					Severity:       p.severity,
					File:           fd.Path,
					Line:           line.Number,
					Description:    p.description,
					Recommendation: p.recommendation,
				})
			}
		}
	}
	return out
}
