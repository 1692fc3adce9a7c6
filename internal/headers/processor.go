package headers

import (
	"bytes"
	"io"
	"slices"
	"strings"
)

// Field is one header field of a message under composition.
type Field struct {
	Name  string
	Value string
}

// Block is an ordered header block. Names compare case-insensitively.
type Block []Field

// Get returns the first value of name, or "".
func (b Block) Get(name string) string {
	if i := b.index(name); i >= 0 {
		return b[i].Value
	}
	return ""
}

// Values returns every value of name in block order.
func (b Block) Values(name string) []string {
	var values []string
	for _, f := range b {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (b Block) index(name string) int {
	return slices.IndexFunc(b, func(f Field) bool { return strings.EqualFold(f.Name, name) })
}

// WriteTo writes the block in wire form, terminated by the empty line that
// separates it from the body.
func (b Block) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, f := range b {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.WriteTo(w)
}

// Processor applies configured rules to header blocks
type Processor struct {
	rules []Rule
}

// NewProcessor creates a processor for rules that passed Validate.
func NewProcessor(rules []Rule) *Processor {
	return &Processor{rules: rules}
}

// Apply returns a copy of b with every rule applied in order. b itself is
// never modified.
func (p *Processor) Apply(b Block) Block {
	out := slices.Clone(b)
	if p == nil {
		return out
	}
	for _, rule := range p.rules {
		out = rule.apply(out)
	}
	return out
}

func (r Rule) apply(b Block) Block {
	switch r.Action {
	case ActionRemove:
		return slices.DeleteFunc(b, func(f Field) bool {
			return slices.ContainsFunc(r.Headers, func(name string) bool {
				return strings.EqualFold(name, f.Name)
			})
		})
	case ActionReplace:
		if i := b.index(r.Header); i >= 0 {
			b[i].Value = r.Value
			return b
		}
		return append(b, Field{Name: r.Header, Value: r.Value})
	case ActionAdd:
		return append(b, Field{Name: r.Header, Value: r.Value})
	}
	return b
}
