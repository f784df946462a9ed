package markdown

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// splitFrontmatter separates a leading YAML frontmatter block (delimited
// by "---" lines) from the Markdown body that follows it. If source has
// no frontmatter, fm is nil and body is the whole source.
func splitFrontmatter(source string) (fm map[string]interface{}, body string, raw string, err error) {
	if !strings.HasPrefix(source, frontmatterDelim) {
		return nil, source, "", nil
	}
	rest := source[len(frontmatterDelim):]
	if !(strings.HasPrefix(rest, "\n") || strings.HasPrefix(rest, "\r\n")) {
		return nil, source, "", nil
	}
	rest = strings.TrimPrefix(strings.TrimPrefix(rest, "\r\n"), "\n")

	idx := indexClosingDelim(rest)
	if idx < 0 {
		return nil, source, "", nil
	}
	yamlPart := rest[:idx]
	after := rest[idx:]
	// Skip the closing delimiter line.
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
	} else {
		after = ""
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal([]byte(yamlPart), &parsed); err != nil {
		return nil, source, "", err
	}
	raw = source[:len(source)-len(after)]
	return parsed, after, raw, nil
}

// indexClosingDelim finds the offset (within s) of a line that is exactly
// "---" or "...", returning the offset of that line's first character.
func indexClosingDelim(s string) int {
	offset := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == frontmatterDelim || trimmed == "..." {
			return offset
		}
		offset += len(line)
	}
	return -1
}

// renderFrontmatter serializes fm back to a "---\n...\n---\n" block. Keys
// are sorted for determinism (I3: structural rendering must be
// byte-identical given equivalent CRDT state).
func renderFrontmatter(fm map[string]interface{}) (string, error) {
	if len(fm) == 0 {
		return "", nil
	}
	node, err := sortedMap(fm)
	if err != nil {
		return "", err
	}
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", err
	}
	return frontmatterDelim + "\n" + string(out) + frontmatterDelim + "\n", nil
}

// sortedMap returns a YAML mapping node with its keys in sorted order, so
// field order is deterministic regardless of Go's randomized map iteration.
func sortedMap(m map[string]interface{}) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var key, value yaml.Node
		if err := key.Encode(k); err != nil {
			return nil, err
		}
		if err := value.Encode(m[k]); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, &key, &value)
	}
	return out, nil
}
