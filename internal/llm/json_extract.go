package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// fencePattern captures the tag and body of a markdown code fence.
var fencePattern = regexp.MustCompile("(?s)```([A-Za-z]*)[ \\t]*\\n(.*?)\\n?```")

var errNoJSON = errors.New("no valid JSON object found in response")

// ExtractJSON pulls a JSON value out of a model reply. A ```json (or
// untagged) fence wins; otherwise the first decodable object or array in
// the prose is returned.
func ExtractJSON(response string) (string, error) {
	if body, ok := fenced(response, "json"); ok && json.Valid([]byte(body)) {
		return body, nil
	}
	for i, r := range response {
		if r != '{' && r != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(response[i:])).Decode(&raw); err == nil {
			return string(raw), nil
		}
	}
	return "", errNoJSON
}

// ExtractJSONAs decodes the value found by ExtractJSON into T.
func ExtractJSONAs[T any](response string) (T, error) {
	var out T
	body, err := ExtractJSON(response)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return out, nil
}

// CleanSQL strips code fences, a leading "SQL:" label and a trailing
// semicolon from a reply.
func CleanSQL(reply string) string {
	s := strings.TrimSpace(reply)
	if body, ok := fenced(s, "sql"); ok {
		s = body
	}
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if len(s) >= 4 && strings.EqualFold(s[:4], "sql:") {
		s = strings.TrimSpace(s[4:])
	}
	return strings.TrimSpace(strings.TrimSuffix(s, ";"))
}

// fenced returns the body of the first fence tagged lang or left untagged.
func fenced(s, lang string) (string, bool) {
	for _, m := range fencePattern.FindAllStringSubmatch(s, -1) {
		if tag := strings.ToLower(m[1]); tag == "" || tag == lang {
			return strings.TrimSpace(m[2]), true
		}
	}
	return "", false
}
