package yarv

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML method files
// ---------------------------------------------------------------------------
//
// A method file describes one method body in a hand-editable form:
//
//	label: max
//	path: max.rb
//	line: 1
//	locals: [a, b]
//	params: {size: 2, lead: 2}
//	code:
//	  - getlocal_OP__WC__0 4
//	  - getlocal_OP__WC__0 3
//	  - opt_gt >/1/ARGS_SIMPLE 0
//	  - branchunless else
//	  - getlocal_OP__WC__0 4
//	  - leave
//	  - "else:"
//	  - getlocal_OP__WC__0 3
//	  - leave
//
// Offset operands name labels. Call-info operands are written
// mid/argc[/FLAG|FLAG]. Everything else is an integer. opt_case_dispatch
// takes the mapping form {op: opt_case_dispatch, cases: [[key, label]],
// else: label}.

type methodFile struct {
	Label    string      `yaml:"label"`
	Path     string      `yaml:"path"`
	Line     int         `yaml:"line"`
	Base     uint64      `yaml:"base"`
	StackMax int         `yaml:"stack_max"`
	Locals   []string    `yaml:"locals"`
	Params   Params      `yaml:"params"`
	Opt      []string    `yaml:"opt_table"`
	Code     []yaml.Node `yaml:"code"`
	Catch    []catchDoc  `yaml:"catch"`
	Parent   *methodFile `yaml:"parent"`
}

type catchDoc struct {
	Type  string `yaml:"type"`
	Iseq  uint64 `yaml:"iseq"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Cont  string `yaml:"cont"`
	SP    int    `yaml:"sp"`
}

type caseDoc struct {
	Op    string      `yaml:"op"`
	Cases [][2]string `yaml:"cases"`
	Else  string      `yaml:"else"`
}

// LoadYAML reads a method file from disk.
func LoadYAML(path string) (*Iseq, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	iseq, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return iseq, nil
}

// ParseYAML assembles a method file.
func ParseYAML(data []byte) (*Iseq, error) {
	var doc methodFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.assemble()
}

func (doc *methodFile) assemble() (*Iseq, error) {
	b := NewBuilder(doc.Label, doc.Path, doc.Line)
	if doc.Base != 0 {
		b.Base(doc.Base)
	}
	b.Locals(doc.Locals...).Params(doc.Params).StackMax(doc.StackMax)
	if doc.Parent != nil {
		parent, err := doc.Parent.assemble()
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
		b.Parent(parent)
	}

	labels := map[string]*Label{}
	label := func(name string) *Label {
		if l, ok := labels[name]; ok {
			return l
		}
		l := b.NewLabel()
		labels[name] = l
		return l
	}

	for i := range doc.Code {
		node := &doc.Code[i]
		switch node.Kind {
		case yaml.ScalarNode:
			text := strings.TrimSpace(node.Value)
			if strings.HasSuffix(text, ":") {
				name := strings.TrimSuffix(text, ":")
				if l, ok := labels[name]; ok && l.resolved {
					return nil, fmt.Errorf("line %d: label %q defined twice", node.Line, name)
				}
				b.Mark(label(name))
				continue
			}
			if err := emitText(b, text, label); err != nil {
				return nil, fmt.Errorf("line %d: %w", node.Line, err)
			}
		case yaml.MappingNode:
			var cd caseDoc
			if err := node.Decode(&cd); err != nil {
				return nil, fmt.Errorf("line %d: %w", node.Line, err)
			}
			if cd.Op != OpOptCaseDispatch.Name() {
				return nil, fmt.Errorf("line %d: mapping form only supports %s", node.Line, OpOptCaseDispatch)
			}
			cases := make([]CaseLabel, len(cd.Cases))
			for j, c := range cd.Cases {
				key, err := parseWord(c[0])
				if err != nil {
					return nil, fmt.Errorf("line %d: case key: %w", node.Line, err)
				}
				cases[j] = CaseLabel{Key: key, Label: label(c[1])}
			}
			b.EmitCaseDispatch(cases, label(cd.Else))
		default:
			return nil, fmt.Errorf("line %d: unexpected code entry", node.Line)
		}
	}

	opts := make([]*Label, len(doc.Opt))
	for i, name := range doc.Opt {
		opts[i] = label(name)
	}
	if len(opts) > 0 {
		b.OptLabels(opts...)
	}
	for _, c := range doc.Catch {
		typ, ok := ParseCatchType(c.Type)
		if !ok {
			return nil, fmt.Errorf("unknown catch type %q", c.Type)
		}
		b.Catch(typ, c.Iseq, label(c.Start), label(c.End), label(c.Cont), c.SP)
	}
	for name, l := range labels {
		if !l.resolved {
			return nil, fmt.Errorf("label %q is never defined", name)
		}
	}
	return b.Build()
}

func emitText(b *Builder, text string, label func(string) *Label) error {
	fields := strings.Fields(text)
	op, ok := Lookup(fields[0])
	if !ok {
		return fmt.Errorf("unknown instruction %q", fields[0])
	}
	types := op.Info().Operands
	args := fields[1:]
	if len(args) != len(types) {
		return fmt.Errorf("%s takes %d operands, got %d", op, len(types), len(args))
	}
	if op == OpOptCaseDispatch {
		return fmt.Errorf("%s needs the mapping form", op)
	}

	words := make([]uint64, len(types))
	var target *Label
	for j, t := range types {
		switch t {
		case TSOffset:
			if j != 0 {
				return fmt.Errorf("%s: offset operand in slot %d", op, j+1)
			}
			target = label(args[j])
		case TSCallInfo:
			ci, err := parseCallInfo(args[j])
			if err != nil {
				return err
			}
			words[j] = b.CallInfo(ci.Mid, ci.ArgC, ci.Flag)
		default:
			w, err := parseWord(args[j])
			if err != nil {
				return fmt.Errorf("%s operand %d: %w", op, j+1, err)
			}
			words[j] = w
		}
	}
	if target != nil {
		b.EmitJump(op, target, words[1:]...)
		return nil
	}
	b.Emit(op, words...)
	return nil
}

func parseWord(s string) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseInt(s, 0, 64)
		return uint64(n), err
	}
	return strconv.ParseUint(s, 0, 64)
}

func parseCallInfo(s string) (CallInfo, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return CallInfo{}, fmt.Errorf("call info %q: want mid/argc[/FLAGS]", s)
	}
	argc, err := strconv.Atoi(parts[1])
	if err != nil {
		return CallInfo{}, fmt.Errorf("call info %q: %w", s, err)
	}
	ci := CallInfo{Mid: parts[0], ArgC: argc}
	if len(parts) == 3 && parts[2] != "" {
	flags:
		for _, name := range strings.Split(parts[2], "|") {
			for _, f := range callFlagNames {
				if f.name == name {
					ci.Flag |= f.bit
					continue flags
				}
			}
			return CallInfo{}, fmt.Errorf("call info %q: unknown flag %s", s, name)
		}
	}
	return ci, nil
}

// LoadFile reads a method body, choosing the format by extension.
func LoadFile(path string) (*Iseq, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path)
	case ".cbor":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", path, err)
		}
		return UnmarshalIseq(data)
	default:
		return nil, fmt.Errorf("%s: unknown method file format", path)
	}
}
