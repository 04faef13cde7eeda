// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Directive ranks enforce the FROM, WORKDIR, RUN, CMD order.
var directiveRank = map[string]int{
	"FROM":    1,
	"WORKDIR": 2,
	"RUN":     3,
	"CMD":     4,
}

// logicalLine is one instruction after joining continuation lines.
type logicalLine struct {
	number int
	text   string
}

// Dockerfile renders the recipe as a single-stage Containerfile.
func (r *Recipe) Dockerfile() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s execution environment\n", r.DisplayName())
	for _, s := range r.Steps() {
		sb.WriteString("\n")
		sb.WriteString(s.Directive())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParseDockerfile parses the line-oriented recipe format: a Dockerfile subset
// with FROM, WORKDIR, an optional RUN package installation, and CMD, in that
// order. source is used in error messages.
func ParseDockerfile(data []byte, source string) (*Recipe, error) {
	lines, err := logicalLines(data)
	if err != nil {
		return nil, &ValidationError{Source: source, Msg: err.Error()}
	}

	r := &Recipe{Source: source}
	lastRank := 0
	seen := make(map[string]bool, len(directiveRank))

	for _, ln := range lines {
		keyword, rest := splitKeyword(ln.text)

		rank, ok := directiveRank[keyword]
		if !ok {
			return nil, lineError(source, ln.number, "unsupported directive %q (valid: FROM, WORKDIR, RUN, CMD)", keyword)
		}
		if seen[keyword] {
			return nil, lineError(source, ln.number, "duplicate %s directive", keyword)
		}
		if rank < lastRank {
			return nil, lineError(source, ln.number, "%s directive out of order (expected FROM, WORKDIR, RUN, CMD)", keyword)
		}
		seen[keyword] = true
		lastRank = rank

		switch keyword {
		case "FROM":
			ref, err := parseFrom(rest)
			if err != nil {
				return nil, lineError(source, ln.number, "%v", err)
			}
			r.Base = ref
		case "WORKDIR":
			if rest == "" {
				return nil, lineError(source, ln.number, "WORKDIR requires a path")
			}
			wd := WorkdirPath(unquote(rest))
			if !path.IsAbs(strings.TrimSpace(string(wd))) {
				return nil, lineError(source, ln.number, "WORKDIR %q must be absolute; a relative path would depend on the base image's working directory", string(wd))
			}
			r.Workdir = wd
		case "RUN":
			if strings.HasPrefix(rest, "[") {
				return nil, lineError(source, ln.number, "RUN exec form is not supported; use a shell expression")
			}
			manager, pkgs, err := parseInstallExpression(rest)
			if err != nil {
				return nil, lineError(source, ln.number, "%v", err)
			}
			r.PackageManager = manager
			r.Packages = pkgs
		case "CMD":
			args, err := parseCmd(rest)
			if err != nil {
				return nil, lineError(source, ln.number, "%v", err)
			}
			r.Command = args
		}
	}

	for _, required := range []string{"FROM", "WORKDIR", "CMD"} {
		if !seen[required] {
			return nil, &ValidationError{Source: source, Msg: "missing required " + required + " directive"}
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// logicalLines strips comments and blank lines and joins backslash
// continuations. Each logical line carries the number of its first line.
func logicalLines(data []byte) ([]logicalLine, error) {
	var (
		out     []logicalLine
		current strings.Builder
		start   int
	)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	number := 0
	for scanner.Scan() {
		number++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if current.Len() == 0 {
			start = number
		}
		if body, ok := strings.CutSuffix(line, `\`); ok {
			current.WriteString(strings.TrimSpace(body))
			current.WriteString(" ")
			continue
		}
		current.WriteString(line)
		out = append(out, logicalLine{number: start, text: current.String()})
		current.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current.Len() > 0 {
		out = append(out, logicalLine{number: start, text: strings.TrimSpace(current.String())})
	}
	return out, nil
}

// splitKeyword splits an instruction into its upper-cased keyword and arguments.
func splitKeyword(text string) (keyword, rest string) {
	i := strings.IndexAny(text, " \t")
	if i < 0 {
		return strings.ToUpper(text), ""
	}
	return strings.ToUpper(text[:i]), strings.TrimSpace(text[i+1:])
}

func parseFrom(rest string) (ImageRef, error) {
	fields := strings.Fields(rest)
	switch {
	case len(fields) == 0:
		return "", fmt.Errorf("FROM requires an image reference")
	case strings.HasPrefix(fields[0], "--"):
		return "", fmt.Errorf("FROM flag %q is not supported", fields[0])
	case len(fields) == 1:
		return ImageRef(fields[0]), nil
	case len(fields) == 3 && strings.EqualFold(fields[1], "AS"):
		return ImageRef(fields[0]), nil
	default:
		return "", fmt.Errorf("FROM accepts a single image reference, got %q", rest)
	}
}

// parseCmd accepts the exec form (JSON array) or the shell form, which is
// wrapped in /bin/sh -c as Docker does.
func parseCmd(rest string) ([]string, error) {
	if rest == "" {
		return nil, fmt.Errorf("CMD requires a command")
	}
	if !strings.HasPrefix(rest, "[") {
		return []string{"/bin/sh", "-c", rest}, nil
	}
	var args []string
	if err := json.Unmarshal([]byte(rest), &args); err != nil {
		return nil, fmt.Errorf("CMD exec form must be a JSON array of strings: %v", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("CMD exec form must not be empty")
	}
	return args, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
