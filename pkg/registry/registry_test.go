package registry

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"avaneesh/malspp-go/pkg/mal"
)

const testDefinitions = `
areas:
  - name: Test
    number: 1000
    version: 1
    services:
      - name: Echo
        number: 1
        operations:
          - name: submitValue
            number: 1
            interaction: SUBMIT
            stages:
              1: [UInteger, String]
          - name: getTime
            number: 2
            interaction: REQUEST
            stages:
              1: []
              2: [Time]
          - name: monitor
            number: 3
            interaction: PUBSUB
`

func loadTest(t *testing.T) *Static {
	t.Helper()
	reg := NewStatic()
	if err := reg.Load([]byte(testDefinitions)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return reg
}

func TestOperationLookup(t *testing.T) {
	reg := loadTest(t)
	op, err := reg.Operation(1000, 1, 1, 2)
	if err != nil {
		t.Fatalf("Operation() error = %v", err)
	}
	want := Operation{Area: 1000, AreaVersion: 1, Service: 1, Number: 2, Name: "getTime", Interaction: mal.InteractionRequest}
	if op != want {
		t.Errorf("Operation() = %+v, want %+v", op, want)
	}
}

func TestResolveStage(t *testing.T) {
	reg := loadTest(t)
	tests := []struct {
		name    string
		op      uint16
		stage   mal.Stage
		want    StageDescriptor
		wantErr error
	}{
		{"submit body", 1, mal.StageSubmit, StageDescriptor{ElementTypes: []string{"UInteger", "String"}}, nil},
		{"submit ack", 1, mal.StageSubmitAck, StageDescriptor{ErrorCapable: true}, nil},
		{"request response", 2, mal.StageRequestResponse, StageDescriptor{ElementTypes: []string{"Time"}, ErrorCapable: true}, nil},
		{"pubsub notify", 3, mal.StageNotify, StageDescriptor{ErrorCapable: true}, nil},
		{"pubsub deregister ack", 3, mal.StageDeregisterAck, StageDescriptor{}, nil},
		{"submit stage 3", 1, 3, StageDescriptor{}, ErrUnknownStage},
		{"unknown operation", 9, 1, StageDescriptor{}, ErrUnknownOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.ResolveStage(1000, 1, 1, tt.op, tt.stage)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveStage() error = %v, want %v", err, tt.wantErr)
			}
			if len(got.ElementTypes) == 0 && len(tt.want.ElementTypes) == 0 {
				got.ElementTypes, tt.want.ElementTypes = nil, nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveStage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLookupErrors(t *testing.T) {
	reg := loadTest(t)
	if _, err := reg.Operation(1000, 2, 1, 1); !errors.Is(err, ErrUnknownArea) {
		t.Errorf("wrong area version error = %v, want %v", err, ErrUnknownArea)
	}
	if _, err := reg.Operation(1000, 1, 5, 1); !errors.Is(err, ErrUnknownService) {
		t.Errorf("unknown service error = %v, want %v", err, ErrUnknownService)
	}
}

func TestRegisterRejects(t *testing.T) {
	reg := loadTest(t)
	dup := AreaDef{Name: "Test", Number: 1000, Version: 1, Services: []ServiceDef{{
		Name: "Echo", Number: 1,
		Operations: []OperationDef{{Name: "again", Number: 1, Interaction: "SEND"}},
	}}}
	if err := reg.Register(dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Register(duplicate) error = %v, want %v", err, ErrDuplicate)
	}

	badStage := AreaDef{Name: "Other", Number: 2, Version: 1, Services: []ServiceDef{{
		Name: "S", Number: 1,
		Operations: []OperationDef{{Name: "send", Number: 1, Interaction: "SEND", Stages: map[mal.Stage][]string{2: nil}}},
	}}}
	if err := reg.Register(badStage); !errors.Is(err, mal.ErrUnknownStage) {
		t.Errorf("Register(bad stage) error = %v, want %v", err, mal.ErrUnknownStage)
	}

	badInteraction := AreaDef{Name: "Other", Number: 2, Version: 1, Services: []ServiceDef{{
		Name: "S", Number: 1,
		Operations: []OperationDef{{Name: "x", Number: 1, Interaction: "BROADCAST"}},
	}}}
	if err := reg.Register(badInteraction); err == nil {
		t.Error("Register(bad interaction) error = nil")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(testDefinitions), 0o600); err != nil {
		t.Fatal(err)
	}
	reg := NewStatic()
	if err := reg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if _, err := reg.Operation(1000, 1, 1, 3); err != nil {
		t.Errorf("Operation() after LoadFile error = %v", err)
	}
	if err := reg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile(missing) error = nil")
	}
}
