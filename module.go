package pmgan

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

var (
	// ErrUnnamedSublayer Returned when sublayer is registered without explicit name and it has no name on its own
	ErrUnnamedSublayer = errors.New("sublayer should have a name")
	// ErrAlreadyApplied Returned when Apply is requested for already built module
	ErrAlreadyApplied = errors.New("module has been applied already")
	// ErrNotApplied Returned when module is used before it has been built
	ErrNotApplied = errors.New("module has not been applied yet")
)

var logger = slog.Default()

// SetLogger Replaces logger used by the package
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger = l
}

// Parameter Wrapper around learnable node
//
// Trainable - whether parameter should be updated by solver
// StopGradient - whether gradient flow should be stopped at this parameter (frozen parameter)
type Parameter struct {
	Name         string
	Node         *gorgonia.Node
	Trainable    bool
	StopGradient bool
}

// IsTrainable Returns true if parameter takes part in training
func (p *Parameter) IsTrainable() bool {
	return p != nil && p.Node != nil && p.Trainable && !p.StopGradient
}

// Sublayer Anything which could be registered in Module
type Sublayer interface {
	Name() string
	Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error)
	Parameters() []*Parameter
}

// LayerFunc Callable returned after registration of a sublayer
type LayerFunc func(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error)

// Architecture Interface for every network built on top of Module.
//
// Apply builds sublayers and parameters of network. It is called exactly once by Construct.
// Unexported method makes embedding of *Module mandatory.
type Architecture interface {
	Name() string
	Apply() error
	base() *Module
}

// Module Base for architectures
//
// graph - evaluation graph where every node of the module lives
// sublayers - registered sublayers in order of registration
// params - parameters owned by module directly (not by sublayers)
type Module struct {
	graph      *gorgonia.ExprGraph
	name       string
	sublayers  []namedSublayer
	index      map[string]int
	params     []*Parameter
	paramIndex map[string]int
	applied    bool
	bnCount    int
}

type namedSublayer struct {
	name  string
	layer Sublayer
}

// NewModule Constructor for Module
func NewModule(g *gorgonia.ExprGraph, name string) *Module {
	return &Module{
		graph:      g,
		name:       name,
		index:      make(map[string]int),
		paramIndex: make(map[string]int),
	}
}

func (m *Module) base() *Module {
	return m
}

// Name Returns name of module
func (m *Module) Name() string {
	return m.name
}

// Graph Returns evaluation graph of module
func (m *Module) Graph() *gorgonia.ExprGraph {
	return m.graph
}

// Applied Returns true if module has been built already
func (m *Module) Applied() bool {
	return m.applied
}

// CheckApplied Returns ErrNotApplied if module has not been built yet
func (m *Module) CheckApplied() error {
	if !m.applied {
		return errors.Wrapf(ErrNotApplied, "[%s]", m.name)
	}
	return nil
}

// AddSublayer Registers named sublayer and returns callable for it.
//
// If name is not provided then sublayer's own name is used.
// If name is taken already then first free name of form 'name_N' (N = 1, 2, ...) is used.
func (m *Module) AddSublayer(layer Sublayer, name ...string) (LayerFunc, error) {
	if layer == nil {
		return nil, fmt.Errorf("[%s] Can't register nil sublayer", m.name)
	}
	resolved := ""
	if len(name) > 0 {
		resolved = name[0]
	}
	if resolved == "" {
		resolved = layer.Name()
	}
	if resolved == "" {
		return nil, errors.Wrapf(ErrUnnamedSublayer, "[%s]", m.name)
	}
	resolved = m.freeName(resolved)
	m.index[resolved] = len(m.sublayers)
	m.sublayers = append(m.sublayers, namedSublayer{name: resolved, layer: layer})
	logger.Debug("sublayer registered", slog.String("module", m.name), slog.String("sublayer", resolved))

	return func(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
		out, err := layer.Fwd(input, batchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s/%s]", m.name, resolved)
		}
		return out, nil
	}, nil
}

// freeName Sublayers and own parameters share one namespace
func (m *Module) freeName(name string) string {
	if !m.taken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if !m.taken(candidate) {
			return candidate
		}
	}
}

func (m *Module) taken(name string) bool {
	if _, ok := m.index[name]; ok {
		return true
	}
	_, ok := m.paramIndex[name]
	return ok
}

// Sublayers Returns names of registered sublayers in order of registration
func (m *Module) Sublayers() []string {
	names := make([]string, len(m.sublayers))
	for i := range m.sublayers {
		names[i] = m.sublayers[i].name
	}
	return names
}

// Sublayer Returns registered sublayer by its name
func (m *Module) Sublayer(name string) (Sublayer, bool) {
	idx, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.sublayers[idx].layer, true
}

// SetTraining Switches every sublayer which distinguishes training and testing modes (e.g. BatchNorm)
func (m *Module) SetTraining(training bool) {
	for _, s := range m.sublayers {
		if t, ok := s.layer.(interface{ SetTraining(bool) }); ok {
			t.SetTraining(training)
		}
	}
}

// Refresh Carries state between evaluations (e.g. spectral normalization estimates). Call after each run of machine
func (m *Module) Refresh() error {
	for _, s := range m.sublayers {
		if r, ok := s.layer.(interface{ Refresh() error }); ok {
			if err := r.Refresh(); err != nil {
				return errors.Wrapf(err, "[%s/%s] Can't refresh sublayer", m.name, s.name)
			}
		}
	}
	return nil
}

// AddParameter Registers node owned by module directly
func (m *Module) AddParameter(name string, node *gorgonia.Node, trainable bool) (*Parameter, error) {
	if node == nil {
		return nil, fmt.Errorf("[%s] Can't register nil node as parameter '%s'", m.name, name)
	}
	if _, ok := m.paramIndex[name]; ok {
		return nil, fmt.Errorf("[%s] Parameter '%s' has been registered already", m.name, name)
	}
	p := &Parameter{Name: name, Node: node, Trainable: trainable}
	m.paramIndex[name] = len(m.params)
	m.params = append(m.params, p)
	return p, nil
}

// FreezeParameter Stops gradient for parameter found by its name. Sublayers' parameters are searched too.
func (m *Module) FreezeParameter(name string) error {
	for _, p := range m.Parameters() {
		if p.Name == name {
			p.StopGradient = true
			return nil
		}
	}
	return fmt.Errorf("[%s] There is no parameter '%s'", m.name, name)
}

// Parameters Returns own parameters followed by parameters of every sublayer
func (m *Module) Parameters() []*Parameter {
	seen := make(map[*Parameter]struct{})
	params := make([]*Parameter, 0, len(m.params))
	appendUnique := func(ps []*Parameter) {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			params = append(params, p)
		}
	}
	appendUnique(m.params)
	for _, s := range m.sublayers {
		appendUnique(s.layer.Parameters())
	}
	return params
}

// TrainableParameters Returns parameters which are trainable and do not stop gradient
func (m *Module) TrainableParameters() []*Parameter {
	all := m.Parameters()
	trainable := make([]*Parameter, 0, len(all))
	for _, p := range all {
		if p.IsTrainable() {
			trainable = append(trainable, p)
		}
	}
	return trainable
}

// Learnables Returns nodes of trainable parameters. Useful for gorgonia.Grad and solvers
func (m *Module) Learnables() gorgonia.Nodes {
	trainable := m.TrainableParameters()
	learnables := make(gorgonia.Nodes, 0, len(trainable))
	for _, p := range trainable {
		learnables = append(learnables, p.Node)
	}
	return learnables
}

// Construct Builds architecture: calls Apply exactly once. Concrete constructors must call it as the last step.
func Construct(arch Architecture) error {
	if arch == nil {
		return fmt.Errorf("Can't construct nil architecture")
	}
	m := arch.base()
	if m == nil {
		return fmt.Errorf("Architecture %T has no base module", arch)
	}
	if m.applied {
		return errors.Wrapf(ErrAlreadyApplied, "[%s]", m.name)
	}
	if err := arch.Apply(); err != nil {
		return errors.Wrapf(err, "[%s] Can't apply module", m.name)
	}
	m.applied = true
	logger.Debug("module applied",
		slog.String("module", m.name),
		slog.Int("sublayers", len(m.sublayers)),
		slog.Int("parameters", len(m.Parameters())),
	)
	return nil
}
