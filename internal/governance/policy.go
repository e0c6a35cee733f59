package governance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDenied is returned by Enforce when a statement is rejected.
var ErrDenied = errors.New("denied by policy")

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes a statement about to be sent to the data endpoint.
type Request struct {
	Tool      string
	Statement string
	Source    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates statements against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// MutatingKeywords are rejected anywhere outside literals and identifiers.
var MutatingKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "CREATE", "MERGE", "EXEC", "EXECUTE",
}

// DefaultPolicyEngine denies tools by name and statements by pattern.
type DefaultPolicyEngine struct {
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
	ReadOnly    bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// NewReadOnlyPolicy allows a single SELECT (or WITH ... SELECT) statement.
func NewReadOnlyPolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	e.ReadOnly = true
	for _, kw := range MutatingKeywords {
		// keywords are fixed identifiers; Compile cannot fail
		_ = e.DenyStatements(`(?i)\b` + kw + `\b`)
	}
	return e
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyStatements(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	code := stripLiterals(req.Statement)

	if e.ReadOnly {
		if strings.TrimSpace(code) == "" {
			return Result{Effect: EffectDeny, Reason: "empty statement"}, nil
		}
		if hasMultipleStatements(code) {
			return Result{Effect: EffectDeny, Reason: "multiple statements are not allowed"}, nil
		}
		first := strings.ToUpper(firstWord(code))
		if first != "SELECT" && first != "WITH" {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("only SELECT statements are allowed, got %s", first),
			}, nil
		}
	}

	for _, re := range e.DeniedRegex {
		if m := re.FindString(code); m != "" {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("statement contains restricted keyword %s", strings.ToUpper(m)),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}

// Enforce evaluates req and converts a deny into an error wrapping ErrDenied.
func Enforce(ctx context.Context, engine PolicyEngine, req Request) error {
	if engine == nil {
		return nil
	}
	res, err := engine.Evaluate(ctx, req)
	if err != nil {
		return fmt.Errorf("policy evaluation: %w", err)
	}
	if res.Effect == EffectDeny {
		return fmt.Errorf("%w: %s", ErrDenied, res.Reason)
	}
	return nil
}

// stripLiterals blanks out string literals, quoted and bracketed identifiers
// and comments so keywords inside them do not match.
func stripLiterals(sql string) string {
	var sb strings.Builder
	sb.Grow(len(sql))

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '\'' || ch == '"':
			j := i + 1
			for j < len(sql) {
				if sql[j] == ch {
					if j+1 < len(sql) && sql[j+1] == ch {
						j += 2
						continue
					}
					break
				}
				j++
			}
			sb.WriteString("''")
			i = j
		case ch == '[':
			j := strings.IndexByte(sql[i:], ']')
			if j < 0 {
				i = len(sql)
			} else {
				i += j
			}
			sb.WriteString("[]")
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				i = len(sql)
			} else {
				i += j
			}
			sb.WriteByte(' ')
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				i = len(sql)
			} else {
				i += j + 3
			}
			sb.WriteByte(' ')
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func hasMultipleStatements(code string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(code), ";")
	return strings.Contains(trimmed, ";")
}

func firstWord(code string) string {
	fields := strings.Fields(strings.TrimLeft(code, "( \t\r\n"))
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], "(")
}
