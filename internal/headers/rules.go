// Package headers rewrites the header block of composed test messages.
package headers

import (
	"fmt"
	"strings"
)

// Action defines the type of header manipulation
type Action string

const (
	ActionRemove  Action = "remove"
	ActionReplace Action = "replace"
	ActionAdd     Action = "add"
)

// Rule defines a header manipulation rule
type Rule struct {
	Action  Action   `yaml:"action" json:"action"`
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"` // For remove action
	Header  string   `yaml:"header,omitempty" json:"header,omitempty"`   // For replace/add
	Value   string   `yaml:"value,omitempty" json:"value,omitempty"`     // For replace/add
}

// protected headers carry the message structure and cannot be touched.
var protected = map[string]bool{
	"from":                      true,
	"to":                        true,
	"date":                      true,
	"message-id":                true,
	"mime-version":              true,
	"content-type":              true,
	"content-transfer-encoding": true,
	"dkim-signature":            true,
}

// Validate checks a rule list before it is used to build a Processor.
func Validate(rules []Rule) error {
	for i, rule := range rules {
		var names []string
		switch rule.Action {
		case ActionRemove:
			if len(rule.Headers) == 0 {
				return fmt.Errorf("rule %d: remove needs at least one header", i)
			}
			names = rule.Headers
		case ActionReplace, ActionAdd:
			if rule.Header == "" {
				return fmt.Errorf("rule %d: %s needs a header name", i, rule.Action)
			}
			if strings.ContainsAny(rule.Value, "\r\n") {
				return fmt.Errorf("rule %d: value of %s contains a line break", i, rule.Header)
			}
			names = []string{rule.Header}
		default:
			return fmt.Errorf("rule %d: unknown action %q (must be remove, replace or add)", i, rule.Action)
		}

		for _, name := range names {
			if !validName(name) {
				return fmt.Errorf("rule %d: invalid header name %q", i, name)
			}
			if protected[strings.ToLower(name)] {
				return fmt.Errorf("rule %d: header %s cannot be changed", i, name)
			}
		}
	}
	return nil
}

// validName reports whether name is a printable ASCII field name (RFC 5322 ftext).
func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 33 || c > 126 || c == ':' {
			return false
		}
	}
	return true
}
