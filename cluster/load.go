package cluster

import (
	"bytes"
	"io"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
	"gopkg.in/yaml.v3"
)

// ErrInsufficientInput is returned when fewer than two collections are
// given to compare.
var ErrInsufficientInput = errors.Errorf("required at least 2 lists")

// Format is the encoding of a label-set file.
type Format int

const (
	Pickle Format = iota
	YAML
)

// FormatOf picks the decoder for path from its extension. JSON documents
// are read by the YAML decoder.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return YAML
	}
	return Pickle
}

// Load reads the collection of label sets stored at path.
func Load(path string) ([]Set, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sets, err := Decode(bytes.NewReader(data), FormatOf(path))
	if err != nil {
		return nil, errors.WrapPrefix(err, path, 0)
	}
	return sets, nil
}

// LoadAll loads every path in order.
func LoadAll(paths []string) ([][]Set, error) {
	if len(paths) < 2 {
		return nil, ErrInsufficientInput
	}
	collections := make([][]Set, 0, len(paths))
	for _, path := range paths {
		sets, err := Load(path)
		if err != nil {
			return nil, err
		}
		collections = append(collections, sets)
	}
	return collections, nil
}

// Decode reads a collection from r. The document must be a sequence of
// lists, tuples, sets or frozensets of hashable labels.
func Decode(r io.Reader, format Format) ([]Set, error) {
	var (
		value interface{}
		err   error
	)
	switch format {
	case YAML:
		err = yaml.NewDecoder(r).Decode(&value)
	default:
		unpickler := pickle.NewUnpickler(r)
		unpickler.FindClass = findClass
		value, err = unpickler.Load()
	}
	if err != nil {
		return nil, errors.WrapPrefix(err, "decoding label sets", 0)
	}

	items, ok := sequence(value)
	if !ok {
		return nil, errors.Errorf("expected a sequence of label sets, got %T", value)
	}
	sets := make([]Set, 0, len(items))
	for index, item := range items {
		labels, ok := members(item)
		if !ok {
			return nil, errors.Errorf("label set %d: expected a list, tuple or set, got %T", index, item)
		}
		set, err := setOf(labels)
		if err != nil {
			return nil, errors.WrapPrefix(err, "label set "+strconv.Itoa(index), 0)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// sequence unwraps ordered containers.
func sequence(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case *types.List:
		return *v, true
	case types.List:
		return v, true
	case *types.Tuple:
		return *v, true
	case types.Tuple:
		return v, true
	}
	return nil, false
}

// members unwraps any container a label set may be stored as.
func members(value interface{}) ([]interface{}, bool) {
	if items, ok := sequence(value); ok {
		return items, true
	}
	var labels []interface{}
	switch v := value.(type) {
	case *types.Set:
		for key := range *v {
			labels = append(labels, key)
		}
	case types.Set:
		for key := range v {
			labels = append(labels, key)
		}
	case *types.FrozenSet:
		for key := range *v {
			labels = append(labels, key)
		}
	case types.FrozenSet:
		for key := range v {
			labels = append(labels, key)
		}
	default:
		return nil, false
	}
	return labels, true
}

// setClass stands in for the set and frozenset builtins, which protocols
// before 4 store as a class reduced over a list of members.
type setClass struct {
	frozen bool
}

func (c setClass) Call(args ...interface{}) (interface{}, error) {
	var items []interface{}
	switch len(args) {
	case 0:
	case 1:
		var ok bool
		if items, ok = members(args[0]); !ok {
			return nil, errors.Errorf("set() argument must be iterable, got %T", args[0])
		}
	default:
		return nil, errors.Errorf("set() takes at most 1 argument, got %d", len(args))
	}
	if c.frozen {
		return types.NewFrozenSetFromSlice(items), nil
	}
	return types.NewSetFromSlice(items), nil
}

func findClass(module, name string) (interface{}, error) {
	switch module {
	case "builtins", "__builtin__":
		switch name {
		case "set":
			return setClass{}, nil
		case "frozenset":
			return setClass{frozen: true}, nil
		}
	}
	return types.NewGenericClass(module, name), nil
}
