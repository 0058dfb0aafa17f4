// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package observer

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/gomlx/qcalib/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// stateFormatVersion is incremented whenever the layout of the serialized state changes.
const stateFormatVersion = 1

// serializedValue represents one element of a State.
// It includes the original ValueType, because the JSON decoder can't recover the original type of
// an anonymous (any) value: all numbers become float64. Non-finite floats are encoded as strings.
type serializedValue struct {
	ValueType string            `json:"type"`
	Value     any               `json:"value,omitempty"`
	Elems     []serializedValue `json:"elems,omitempty"`
}

type serializedObserver struct {
	Version int             `json:"version"`
	State   serializedValue `json:"state"`
}

func encodeValue(v any) (serializedValue, error) {
	switch value := v.(type) {
	case nil:
		return serializedValue{ValueType: "nil"}, nil
	case bool:
		return serializedValue{ValueType: "bool", Value: value}, nil
	case int:
		return serializedValue{ValueType: "int", Value: value}, nil
	case float64:
		if math.IsInf(value, 0) || math.IsNaN(value) {
			return serializedValue{ValueType: "float64", Value: strconv.FormatFloat(value, 'g', -1, 64)}, nil
		}
		return serializedValue{ValueType: "float64", Value: value}, nil
	case State:
		elems := make([]serializedValue, len(value))
		for ii, e := range value {
			var err error
			elems[ii], err = encodeValue(e)
			if err != nil {
				return serializedValue{}, err
			}
		}
		return serializedValue{ValueType: "tuple", Elems: elems}, nil
	}
	return serializedValue{}, errors.Errorf("cannot serialize value %v of type %T", v, v)
}

// decode converts the value decoded by JSON back to its original ValueType.
func (s *serializedValue) decode() (any, error) {
	switch s.ValueType {
	case "nil":
		return nil, nil
	case "bool":
		b, ok := s.Value.(bool)
		if !ok {
			return nil, errors.Errorf("invalid bool value %v", s.Value)
		}
		return b, nil
	case "int":
		f, ok := s.Value.(float64)
		if !ok && s.Value != nil {
			return nil, errors.Errorf("invalid int value %v", s.Value)
		}
		return int(f), nil
	case "float64":
		switch value := s.Value.(type) {
		case nil:
			return 0.0, nil
		case float64:
			return value, nil
		case string:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid float value %q", value)
			}
			return f, nil
		}
		return nil, errors.Errorf("invalid float value %v", s.Value)
	case "tuple":
		elems := make(State, len(s.Elems))
		for ii := range s.Elems {
			var err error
			elems[ii], err = s.Elems[ii].decode()
			if err != nil {
				return nil, err
			}
		}
		return elems, nil
	}
	return nil, errors.Errorf("unknown serialized value type %q", s.ValueType)
}

// Save writes the state of the Observer as JSON.
func (o *Observer) Save(w io.Writer) error {
	state, err := encodeValue(o.Serialize())
	if err != nil {
		return errors.WithMessage(err, "failed to serialize observer")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(serializedObserver{Version: stateFormatVersion, State: state}); err != nil {
		return errors.Wrap(err, "failed to write observer state")
	}
	return nil
}

// Load reads an Observer saved with Save.
func Load(r io.Reader) (*Observer, error) {
	var serialized serializedObserver
	if err := json.NewDecoder(r).Decode(&serialized); err != nil {
		return nil, errors.Wrap(err, "failed to decode observer state")
	}
	if serialized.Version != stateFormatVersion {
		return nil, errors.Errorf("observer state has format version %d, only version %d is supported",
			serialized.Version, stateFormatVersion)
	}
	decoded, err := serialized.State.decode()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to decode observer state")
	}
	state, ok := decoded.(State)
	if !ok {
		return nil, errors.Errorf("observer state must be a tuple, got %T", decoded)
	}
	o := &Observer{}
	if err := o.Deserialize(state); err != nil {
		return nil, err
	}
	return o, nil
}

// SaveFile writes the Observer state to the given file path. A leading "~" is expanded to the home directory.
func (o *Observer) SaveFile(filePath string) error {
	filePath, err := fsutil.ExpandHome(filePath)
	if err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create observer state file %q", filePath)
	}
	if err = o.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close observer state file %q", filePath)
}

// LoadFile reads an Observer state from the given file path. A leading "~" is expanded to the home directory.
func LoadFile(filePath string) (*Observer, error) {
	filePath, err := fsutil.ExpandHome(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open observer state file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	o, err := Load(f)
	return o, errors.WithMessagef(err, "observer state file %q", filePath)
}
