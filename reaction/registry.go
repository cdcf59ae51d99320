package reaction

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/openfluke/reactor/device"
	"golang.org/x/xerrors"
)

// Factory builds a reaction from its textual parameter.
type Factory func(param string) (Reactor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a reaction kind available to Parse under each of the given
// names. Registering a name twice panics.
func Register(fn Factory, names ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, name := range names {
		if _, dup := registry[name]; dup {
			panic("reaction: Register called twice for " + name)
		}
		registry[name] = fn
	}
}

// Kinds returns the registered names in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse builds a reaction from a "kind=param" description such as
// "multiply=0.1" or "add=2". Malformed input yields a
// *device.ConstructionError.
func Parse(def string) (Reactor, error) {
	kind, param, ok := strings.Cut(strings.TrimSpace(def), "=")
	if !ok {
		return nil, &device.ConstructionError{Op: def, Err: xerrors.New(`expected "kind=param"`)}
	}
	kind = strings.ToLower(strings.TrimSpace(kind))

	registryMu.RLock()
	fn, found := registry[kind]
	registryMu.RUnlock()
	if !found {
		return nil, &device.ConstructionError{Op: kind, Err: xerrors.New("unknown reaction kind")}
	}
	return fn(strings.TrimSpace(param))
}

// ParseAll parses every description and returns them as a Set. All malformed
// descriptions are reported together.
func ParseAll(defs []string) (Set, error) {
	var (
		set Set
		err error
	)
	for _, def := range defs {
		r, perr := Parse(def)
		if perr != nil {
			err = multierror.Append(err, perr)
			continue
		}
		set = append(set, r)
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

func parseMultiply(param string) (Reactor, error) {
	a, err := strconv.ParseFloat(param, 64)
	if err != nil {
		return nil, &device.ConstructionError{Op: "multiply", Param: param, Err: err}
	}
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return nil, &device.ConstructionError{Op: "multiply", Param: param, Err: xerrors.New("factor must be finite")}
	}
	return Handle(NewMultiply(a)), nil
}

func parseAdd(param string) (Reactor, error) {
	b, err := strconv.Atoi(param)
	if err != nil {
		return nil, &device.ConstructionError{Op: "add", Param: param, Err: err}
	}
	return Handle(NewAdd(b)), nil
}

func init() {
	Register(parseMultiply, "multiply", "mul", "a")
	Register(parseAdd, "add", "b")
}
