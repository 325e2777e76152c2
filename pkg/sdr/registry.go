package sdr

import (
	"fmt"
	"sort"
	"sync"
)

// FindFunc lists the devices a driver can see. Drivers apply their own
// filtering on args (serial, index, ...).
type FindFunc func(args Kwargs) ([]Kwargs, error)

// MakeFunc instantiates a device from a descriptor.
type MakeFunc func(args Kwargs) (Device, error)

type driverEntry struct {
	find FindFunc
	make MakeFunc
}

type Registry struct {
	mu      sync.RWMutex
	drivers map[string]driverEntry
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]driverEntry)}
}

var defaultRegistry = NewRegistry()

// Default returns the registry that driver packages register into from init.
func Default() *Registry { return defaultRegistry }

func Register(name string, find FindFunc, make MakeFunc) {
	defaultRegistry.Register(name, find, make)
}

func (r *Registry) Register(name string, find FindFunc, make MakeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[name]; ok {
		panic(fmt.Sprintf("sdr: driver %q registered twice", name))
	}
	r.drivers[name] = driverEntry{find: find, make: make}
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) entry(name string) (driverEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.drivers[name]
	return e, ok
}

// Enumerate asks every driver (or only args["driver"]) for devices. Each
// result carries the driver key it came from.
func (r *Registry) Enumerate(args Kwargs) ([]Kwargs, error) {
	names := r.Drivers()
	if driver, ok := args["driver"]; ok {
		if _, ok := r.entry(driver); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
		}
		names = []string{driver}
	}

	var results []Kwargs
	for _, name := range names {
		e, _ := r.entry(name)
		found, err := e.find(args)
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", name, err)
		}
		for _, desc := range found {
			results = append(results, desc.Merge(Kwargs{"driver": name}))
		}
	}
	return results, nil
}

// Open enumerates with args and instantiates the first match, passing the
// caller's args merged over the match's descriptor.
func (r *Registry) Open(args Kwargs) (Device, error) {
	found, err := r.Enumerate(args)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoMatch, args)
	}

	desc := found[0].Merge(args)
	e, _ := r.entry(desc["driver"])
	dev, err := e.make(desc)
	if err != nil {
		return nil, fmt.Errorf("make %s: %w", desc["driver"], err)
	}
	return dev, nil
}

func Enumerate(args Kwargs) ([]Kwargs, error) { return defaultRegistry.Enumerate(args) }

func Open(args Kwargs) (Device, error) { return defaultRegistry.Open(args) }
