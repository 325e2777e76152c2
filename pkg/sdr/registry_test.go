package sdr

import (
	"errors"
	"reflect"
	"testing"
)

type nopDevice struct {
	Device
	args Kwargs
}

func testRegistry(found map[string][]Kwargs) (*Registry, *[]Kwargs) {
	r := NewRegistry()
	var made []Kwargs
	for name, results := range found {
		results := results
		r.Register(name,
			func(args Kwargs) ([]Kwargs, error) { return results, nil },
			func(args Kwargs) (Device, error) {
				made = append(made, args)
				return &nopDevice{args: args}, nil
			})
	}
	return r, &made
}

func TestEnumerateAnnotatesDriver(t *testing.T) {
	r, _ := testRegistry(map[string][]Kwargs{
		"icr8600": {{"label": "IC-R8600"}},
		"rtlsdr":  {{"index": "0"}, {"index": "1"}},
	})

	all, err := r.Enumerate(nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Kwargs{
		{"label": "IC-R8600", "driver": "icr8600"},
		{"index": "0", "driver": "rtlsdr"},
		{"index": "1", "driver": "rtlsdr"},
	}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("Enumerate() = %v, want %v", all, want)
	}

	only, err := r.Enumerate(Kwargs{"driver": "icr8600"})
	if err != nil || len(only) != 1 {
		t.Errorf("Enumerate(driver=icr8600) = %v, %v", only, err)
	}

	if _, err := r.Enumerate(Kwargs{"driver": "airspy"}); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("unknown driver error = %v", err)
	}
}

func TestOpenMergesArgs(t *testing.T) {
	r, made := testRegistry(map[string][]Kwargs{
		"icr8600": {{"label": "IC-R8600", "serial": "-"}},
	})

	dev, err := r.Open(Kwargs{"driver": "icr8600", "bufflen": "8192"})
	if err != nil {
		t.Fatal(err)
	}
	want := Kwargs{"driver": "icr8600", "label": "IC-R8600", "serial": "-", "bufflen": "8192"}
	if got := dev.(*nopDevice).args; !reflect.DeepEqual(got, want) {
		t.Errorf("make args = %v, want %v", got, want)
	}
	if len(*made) != 1 {
		t.Errorf("make called %d times", len(*made))
	}
}

func TestOpenNoMatch(t *testing.T) {
	r, made := testRegistry(map[string][]Kwargs{"icr8600": nil})
	if _, err := r.Open(Kwargs{"driver": "icr8600"}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("Open() error = %v, want ErrNoMatch", err)
	}
	if len(*made) != 0 {
		t.Error("make called without a match")
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	r, _ := testRegistry(map[string][]Kwargs{"mock": nil})
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	r.Register("mock", nil, nil)
}

func TestStreamState(t *testing.T) {
	var s StreamState
	if err := s.Deactivate(); !errors.Is(err, ErrStreamState) {
		t.Errorf("deactivate while opened = %v", err)
	}
	if err := s.Activate(); err != nil || !s.Readable() {
		t.Fatalf("activate = %v", err)
	}
	if err := s.Activate(); !errors.Is(err, ErrStreamState) {
		t.Errorf("double activate = %v", err)
	}
	if err := s.Deactivate(); err != nil || s.Readable() {
		t.Fatalf("deactivate = %v", err)
	}
	wasActive, err := s.Close()
	if err != nil || wasActive || s.Phase() != StreamClosed {
		t.Errorf("close = %v, %v, %s", wasActive, err, s.Phase())
	}
	if _, err := s.Close(); !errors.Is(err, ErrStreamState) {
		t.Errorf("double close = %v", err)
	}
}

func TestErrorString(t *testing.T) {
	if ErrorString(ErrCodeTimeout) != "TIMEOUT" || ErrorString(12) != "OK" || ErrorString(-99) != "UNKNOWN(-99)" {
		t.Error("ErrorString mismatch")
	}
}
