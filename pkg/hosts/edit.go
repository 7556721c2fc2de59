package hosts

import (
	"sort"
	"strings"
)

// entry is one parsed mapping line
type entry struct {
	ip        string
	hostnames []string
}

// parseLine splits a hosts line into its address and hostnames. Comment
// lines, blank lines and trailing comments yield ok=false or are ignored.
func parseLine(line string) (entry, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return entry{}, false
	}
	return entry{ip: fields[0], hostnames: fields[1:]}, true
}

// matcher decides which mapping lines are owned by hostfix
type matcher struct {
	hostnames map[string]struct{}
	keyword   string
}

func newMatcher(hostnames []string, keyword string) matcher {
	m := matcher{
		hostnames: make(map[string]struct{}, len(hostnames)),
		keyword:   strings.ToLower(keyword),
	}
	for _, h := range hostnames {
		m.hostnames[strings.ToLower(h)] = struct{}{}
	}
	return m
}

func (m matcher) matches(e entry) bool {
	for _, h := range e.hostnames {
		h = strings.ToLower(h)
		if _, ok := m.hostnames[h]; ok {
			return true
		}
		if m.keyword != "" && strings.Contains(h, m.keyword) {
			return true
		}
	}
	return false
}

// rewrite removes every non-comment line matched by m and appends one
// "ip<TAB>hostname" line per mapping entry, sorted by hostname. Line
// endings of the original content are preserved.
func rewrite(content string, mapping map[string]string, m matcher) string {
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}

	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	// Split leaves one empty element after a trailing newline
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	out := make([]string, 0, len(lines)+len(mapping))
	for _, line := range lines {
		if e, ok := parseLine(line); ok && m.matches(e) {
			continue
		}
		out = append(out, line)
	}

	hostnames := make([]string, 0, len(mapping))
	for h := range mapping {
		hostnames = append(hostnames, h)
	}
	sort.Strings(hostnames)
	for _, h := range hostnames {
		out = append(out, mapping[h]+"\t"+h)
	}

	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, newline) + newline
}

// lookup returns the first address mapped to each hostname in hostnames
func lookup(content string, hostnames []string) map[string]string {
	want := newMatcher(hostnames, "")
	found := make(map[string]string)
	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		e, ok := parseLine(line)
		if !ok {
			continue
		}
		for _, h := range e.hostnames {
			h = strings.ToLower(h)
			if _, managed := want.hostnames[h]; !managed {
				continue
			}
			if _, seen := found[h]; !seen {
				found[h] = e.ip
			}
		}
	}
	return found
}
