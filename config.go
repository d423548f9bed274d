package pmgan

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"
)

/*
Bindings file format. One binding per line, '#' starts a comment:

	File    := Binding*
	Binding := <scope> "." <param> "=" Value
	Value   := "True" | "False" | "None" | <float> | <int> | <string> | "@" <name> | "[" <int> ("," <int>)* "]"

Scopes:
	G - generator architectures. Bindable: batch_norm_cls, spectral_norm
	D - discriminator architectures. Bindable: image_shape, batch_norm_cls, layer_norm, spectral_norm

References ('@name') are resolved against factories registered by RegisterBatchNorm.
*/

const (
	ScopeGenerator     = "G"
	ScopeDiscriminator = "D"
)

type valueKind int

const (
	kindBool = valueKind(iota)
	kindShape
	kindBatchNorm
)

type paramSpec struct {
	kind        valueKind
	blacklisted bool
}

var scopes = map[string]map[string]paramSpec{
	ScopeGenerator: {
		"name":           {blacklisted: true},
		"image_shape":    {blacklisted: true},
		"batch_norm_cls": {kind: kindBatchNorm},
		"spectral_norm":  {kind: kindBool},
	},
	ScopeDiscriminator: {
		"name":           {blacklisted: true},
		"image_shape":    {kind: kindShape},
		"batch_norm_cls": {kind: kindBatchNorm},
		"layer_norm":     {kind: kindBool},
		"spectral_norm":  {kind: kindBool},
	},
}

var (
	bindingLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Comment", Pattern: `#[^\n]*`},
		{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
		{Name: "Reference", Pattern: `@[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Float", Pattern: `[-+]?\d+\.\d*([eE][-+]?\d+)?|[-+]?\d+[eE][-+]?\d+`},
		{Name: "Int", Pattern: `[-+]?\d+`},
		{Name: "String", Pattern: `"(\\"|[^"])*"`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Punct", Pattern: `[.=\[\],]`},
	})
	bindingParser = participle.MustBuild[bindingFile](
		participle.Lexer(bindingLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
	)
)

type bindingFile struct {
	Bindings []*bindingEntry `parser:"@@*"`
}

type bindingEntry struct {
	Pos   lexer.Position
	Scope string        `parser:"@Ident \".\""`
	Param string        `parser:"@Ident \"=\""`
	Value *bindingValue `parser:"@@"`
}

type bindingValue struct {
	Bool      *Boolean `parser:"  @(\"True\" | \"False\")"`
	None      bool     `parser:"| @\"None\""`
	Reference *string  `parser:"| @Reference"`
	Float     *float64 `parser:"| @Float"`
	Int       *int     `parser:"| @Int"`
	String    *string  `parser:"| @String"`
	List      *intList `parser:"| @@"`
}

type intList struct {
	Values []int `parser:"\"[\" ( @Int ( \",\" @Int )* \",\"? )? \"]\""`
}

// Boolean Captures python-like boolean literals
type Boolean bool

func (b *Boolean) Capture(values []string) error {
	*b = values[0] == "True"
	return nil
}

// describe Formats value the way it is written in bindings
func (v *bindingValue) describe() string {
	switch {
	case v.Bool != nil:
		if *v.Bool {
			return "True"
		}
		return "False"
	case v.None:
		return "None"
	case v.Reference != nil:
		return *v.Reference
	case v.Float != nil:
		return fmt.Sprintf("%g", *v.Float)
	case v.Int != nil:
		return fmt.Sprintf("%d", *v.Int)
	case v.String != nil:
		return fmt.Sprintf("%q", *v.String)
	case v.List != nil:
		parts := make([]string, len(v.List.Values))
		for i, x := range v.List.Values {
			parts[i] = fmt.Sprintf("%d", x)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "<empty>"
}

// binding Resolved value of single parameter
type binding struct {
	boolean   bool
	shape     ImageShape
	batchNorm BatchNormFunc
	refName   string
}

// Bindings Parsed and validated configuration for architectures' constructors
type Bindings struct {
	values map[string]map[string]binding
}

// ParseBindings Parses bindings from text
func ParseBindings(text string) (*Bindings, error) {
	return parseBindings("", text)
}

// LoadBindings Parses bindings file
func LoadBindings(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read bindings file '%s'", path)
	}
	return parseBindings(path, string(data))
}

func parseBindings(filename, text string) (*Bindings, error) {
	file, err := bindingParser.ParseString(filename, text)
	if err != nil {
		return nil, errors.Wrap(err, "Can't parse bindings")
	}
	b := &Bindings{values: make(map[string]map[string]binding)}
	for _, entry := range file.Bindings {
		resolved, err := resolveBinding(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %s.%s: %s", entry.Pos, entry.Scope, entry.Param, err)
		}
		if b.values[entry.Scope] == nil {
			b.values[entry.Scope] = make(map[string]binding)
		}
		// Later bindings override earlier ones
		b.values[entry.Scope][entry.Param] = resolved
	}
	return b, nil
}

func resolveBinding(entry *bindingEntry) (binding, error) {
	params, ok := scopes[entry.Scope]
	if !ok {
		return binding{}, fmt.Errorf("unknown scope '%s'", entry.Scope)
	}
	spec, ok := params[entry.Param]
	if !ok {
		return binding{}, fmt.Errorf("unknown parameter")
	}
	if spec.blacklisted {
		return binding{}, fmt.Errorf("parameter can't be configured")
	}
	v := entry.Value
	res := binding{}
	switch spec.kind {
	case kindBool:
		if v.Bool == nil {
			return binding{}, fmt.Errorf("expected True or False, got %s", v.describe())
		}
		res.boolean = bool(*v.Bool)
	case kindShape:
		if v.None {
			return res, nil
		}
		if v.List == nil {
			return binding{}, fmt.Errorf("expected [height, width, colors] or None, got %s", v.describe())
		}
		shape := ImageShape(v.List.Values)
		if err := shape.Validate(); err != nil {
			return binding{}, err
		}
		res.shape = shape
	case kindBatchNorm:
		if v.None {
			return res, nil
		}
		if v.Reference == nil {
			return binding{}, fmt.Errorf("expected @reference or None, got %s", v.describe())
		}
		name := strings.TrimPrefix(*v.Reference, "@")
		fn, ok := BatchNormByName(name)
		if !ok {
			return binding{}, fmt.Errorf("unknown reference '@%s' (registered: %s)", name, strings.Join(BatchNormNames(), ", "))
		}
		res.batchNorm = fn
		res.refName = name
	}
	return res, nil
}

func (b *Bindings) lookup(scope, param string) (binding, bool) {
	if b == nil {
		return binding{}, false
	}
	v, ok := b.values[scope][param]
	return v, ok
}

// Params Returns sorted names of parameters bound in scope
func (b *Bindings) Params(scope string) []string {
	if b == nil {
		return nil
	}
	names := make([]string, 0, len(b.values[scope]))
	for name := range b.values[scope] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reference Returns name of factory referenced by batch_norm_cls in scope
func (b *Bindings) Reference(scope string) (string, bool) {
	v, ok := b.lookup(scope, "batch_norm_cls")
	if !ok || v.refName == "" {
		return "", false
	}
	return v.refName, true
}

// ConfigureGenerator Overrides fields of config by bound values of scope 'G'
func (b *Bindings) ConfigureGenerator(cfg *GeneratorConfig) {
	if v, ok := b.lookup(ScopeGenerator, "batch_norm_cls"); ok {
		cfg.BatchNorm = v.batchNorm
	}
	if v, ok := b.lookup(ScopeGenerator, "spectral_norm"); ok {
		cfg.SpectralNorm = v.boolean
	}
}

// ConfigureDiscriminator Overrides fields of config by bound values of scope 'D'
func (b *Bindings) ConfigureDiscriminator(cfg *DiscriminatorConfig) {
	if v, ok := b.lookup(ScopeDiscriminator, "image_shape"); ok {
		cfg.ImageShape = v.shape
	}
	if v, ok := b.lookup(ScopeDiscriminator, "batch_norm_cls"); ok {
		cfg.BatchNorm = v.batchNorm
	}
	if v, ok := b.lookup(ScopeDiscriminator, "layer_norm"); ok {
		cfg.LayerNorm = v.boolean
	}
	if v, ok := b.lookup(ScopeDiscriminator, "spectral_norm"); ok {
		cfg.SpectralNorm = v.boolean
	}
}
