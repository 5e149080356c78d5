// Package registry describes the areas, services and operations a
// transport knows about, so that incoming messages can be checked
// against the interaction pattern and body shape of their operation.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"avaneesh/malspp-go/pkg/mal"
)

// Errors
var (
	ErrUnknownArea      = errors.New("unknown area")
	ErrUnknownService   = errors.New("unknown service")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrUnknownStage     = errors.New("operation has no such stage")
	ErrDuplicate        = errors.New("duplicate definition")
)

// StageDescriptor describes the body of one stage of an operation.
type StageDescriptor struct {
	// ElementTypes names the body elements in order.
	ElementTypes []string
	// ErrorCapable is true when the stage may be sent as an error.
	ErrorCapable bool
}

// Operation is a resolved operation definition.
type Operation struct {
	Area        uint16
	AreaVersion uint8
	Service     uint16
	Number      uint16
	Name        string
	Interaction mal.InteractionType
}

// Registry resolves operations and their stages.
type Registry interface {
	Operation(area uint16, areaVersion uint8, service, operation uint16) (Operation, error)
	ResolveStage(area uint16, areaVersion uint8, service, operation uint16, stage mal.Stage) (StageDescriptor, error)
}

// AreaDef is the file and programmatic form of an area definition.
type AreaDef struct {
	Name     string       `yaml:"name"`
	Number   uint16       `yaml:"number"`
	Version  uint8        `yaml:"version"`
	Services []ServiceDef `yaml:"services"`
}

// ServiceDef defines a service inside an area.
type ServiceDef struct {
	Name       string         `yaml:"name"`
	Number     uint16         `yaml:"number"`
	Operations []OperationDef `yaml:"operations"`
}

// OperationDef defines an operation. Stages maps a stage number to its
// body element type names; stages with no body may be omitted.
type OperationDef struct {
	Name        string                 `yaml:"name"`
	Number      uint16                 `yaml:"number"`
	Interaction string                 `yaml:"interaction"`
	Stages      map[mal.Stage][]string `yaml:"stages"`
}

type areaKey struct {
	number  uint16
	version uint8
}

type opKey struct {
	area    areaKey
	service uint16
	op      uint16
}

type opEntry struct {
	Operation
	stages map[mal.Stage][]string
}

// Static is an in-memory Registry.
type Static struct {
	mu       sync.RWMutex
	areas    map[areaKey]string
	services map[areaKey]map[uint16]string
	ops      map[opKey]*opEntry
}

// NewStatic creates an empty registry.
func NewStatic() *Static {
	return &Static{
		areas:    make(map[areaKey]string),
		services: make(map[areaKey]map[uint16]string),
		ops:      make(map[opKey]*opEntry),
	}
}

// Register adds an area definition. Services may be added to an already
// registered area, but an operation cannot be defined twice.
func (s *Static) Register(def AreaDef) error {
	ak := areaKey{def.Number, def.Version}
	entries := make(map[opKey]*opEntry)
	for _, svc := range def.Services {
		for _, op := range svc.Operations {
			interaction, err := mal.ParseInteractionType(op.Interaction)
			if err != nil {
				return fmt.Errorf("%s.%s.%s: %w", def.Name, svc.Name, op.Name, err)
			}
			for stage := range op.Stages {
				if _, err := mal.ResolveSDU(interaction, stage, false); err != nil {
					return fmt.Errorf("%s.%s.%s: %w", def.Name, svc.Name, op.Name, err)
				}
			}
			key := opKey{ak, svc.Number, op.Number}
			if _, dup := entries[key]; dup {
				return fmt.Errorf("%w: %s.%s.%s", ErrDuplicate, def.Name, svc.Name, op.Name)
			}
			entries[key] = &opEntry{
				Operation: Operation{
					Area:        def.Number,
					AreaVersion: def.Version,
					Service:     svc.Number,
					Number:      op.Number,
					Name:        op.Name,
					Interaction: interaction,
				},
				stages: op.Stages,
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range entries {
		if _, dup := s.ops[key]; dup {
			return fmt.Errorf("%w: %s.%s", ErrDuplicate, def.Name, e.Name)
		}
	}
	s.areas[ak] = def.Name
	if s.services[ak] == nil {
		s.services[ak] = make(map[uint16]string)
	}
	for _, svc := range def.Services {
		s.services[ak][svc.Number] = svc.Name
	}
	for key, e := range entries {
		s.ops[key] = e
	}
	return nil
}

func (s *Static) lookup(area uint16, areaVersion uint8, service, operation uint16) (*opEntry, error) {
	ak := areaKey{area, areaVersion}
	if _, ok := s.areas[ak]; !ok {
		return nil, fmt.Errorf("%w: %d version %d", ErrUnknownArea, area, areaVersion)
	}
	if _, ok := s.services[ak][service]; !ok {
		return nil, fmt.Errorf("%w: %d in area %d", ErrUnknownService, service, area)
	}
	e, ok := s.ops[opKey{ak, service, operation}]
	if !ok {
		return nil, fmt.Errorf("%w: %d in service %d.%d", ErrUnknownOperation, operation, area, service)
	}
	return e, nil
}

// Operation returns the definition of an operation.
func (s *Static) Operation(area uint16, areaVersion uint8, service, operation uint16) (Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookup(area, areaVersion, service, operation)
	if err != nil {
		return Operation{}, err
	}
	return e.Operation, nil
}

// ResolveStage returns the body descriptor of one stage of an operation.
func (s *Static) ResolveStage(area uint16, areaVersion uint8, service, operation uint16, stage mal.Stage) (StageDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookup(area, areaVersion, service, operation)
	if err != nil {
		return StageDescriptor{}, err
	}
	sdu, err := mal.ResolveSDU(e.Interaction, stage, false)
	if err != nil {
		return StageDescriptor{}, fmt.Errorf("%w: %s stage %d", ErrUnknownStage, e.Name, stage)
	}
	return StageDescriptor{
		ElementTypes: append([]string(nil), e.stages[stage]...),
		ErrorCapable: sdu.ErrorCapable(),
	}, nil
}

type file struct {
	Areas []AreaDef `yaml:"areas"`
}

// LoadFile registers every area in a YAML service definition file.
func (s *Static) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read registry %s: %w", path, err)
	}
	return s.Load(data)
}

// Load registers every area in YAML data.
func (s *Static) Load(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse registry: %w", err)
	}
	for _, a := range f.Areas {
		if err := s.Register(a); err != nil {
			return err
		}
	}
	return nil
}
