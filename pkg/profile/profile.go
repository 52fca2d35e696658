// Package profile describes a GATT server's services in YAML and turns the description
// into a gatt.Registration keyed by string tokens.
//
//	services:
//	  - uuid: "180F"
//	    characteristics:
//	      - uuid: "2A19"
//	        token: battery
//	        properties: read,notify
//	        hex: "64"
//	        descriptors:
//	          - uuid: "2901"
//	            value: Battery
package profile

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"github.com/srg/gattsrv/internal/bledb"
	"github.com/srg/gattsrv/pkg/gatt"
)

//go:embed default.yaml
var defaultProfile []byte

// ErrInvalidProfile is wrapped by every profile validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is the declarative form of a GATT database.
type Profile struct {
	Name     string    `yaml:"name,omitempty"`
	Services []Service `yaml:"services"`
}

type Service struct {
	UUID            string           `yaml:"uuid"`
	Secondary       bool             `yaml:"secondary,omitempty"`
	Characteristics []Characteristic `yaml:"characteristics,omitempty"`
}

// Characteristic takes its initial value from either Value (text) or Hex, not both.
type Characteristic struct {
	UUID        string       `yaml:"uuid"`
	Token       string       `yaml:"token,omitempty"`
	Properties  string       `yaml:"properties"`
	Value       string       `yaml:"value,omitempty"`
	Hex         string       `yaml:"hex,omitempty"`
	Descriptors []Descriptor `yaml:"descriptors,omitempty"`
}

type Descriptor struct {
	UUID     string `yaml:"uuid"`
	Value    string `yaml:"value,omitempty"`
	Hex      string `yaml:"hex,omitempty"`
	Writable bool   `yaml:"writable,omitempty"`
}

// Default returns the built-in profile.
func Default() *Profile {
	p, err := Parse(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("built-in profile: %v", err))
	}
	return p
}

// Load reads a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML profile, rejecting unknown keys.
func Parse(data []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if len(p.Services) == 0 {
		return nil, fmt.Errorf("%w: no services", ErrInvalidProfile)
	}
	return &p, nil
}

// Encode writes p as YAML.
func (p *Profile) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

// Registration registers every service of p in order.
func (p *Profile) Registration() (*gatt.Registration[string], error) {
	r := gatt.NewRegistration[string]()
	for i, s := range p.Services {
		where := fmt.Sprintf("services[%d]", i)
		uuid, err := parseUUID(s.UUID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidProfile, where, err)
		}
		if s.Secondary {
			err = r.AddSecondaryService(uuid)
		} else {
			err = r.AddPrimaryService(uuid)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}

		for j, c := range s.Characteristics {
			if err := addCharacteristic(r, c); err != nil {
				return nil, fmt.Errorf("%s.characteristics[%d]: %w", where, j, err)
			}
		}
	}
	return r, nil
}

func addCharacteristic(r *gatt.Registration[string], c Characteristic) error {
	uuid, err := parseUUID(c.UUID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	props, err := gatt.ParseProperties(c.Properties)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	value, err := parseValue(c.Value, c.Hex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	if c.Token != "" {
		err = r.AddCharacteristicWithToken(c.Token, uuid, value, props)
	} else {
		err = r.AddCharacteristic(uuid, value, props)
	}
	if err != nil {
		return err
	}

	for k, d := range c.Descriptors {
		uuid, err := parseUUID(d.UUID)
		if err != nil {
			return fmt.Errorf("%w: descriptors[%d]: %v", ErrInvalidProfile, k, err)
		}
		value, err := parseValue(d.Value, d.Hex)
		if err != nil {
			return fmt.Errorf("%w: descriptors[%d]: %v", ErrInvalidProfile, k, err)
		}
		if err := r.AddDescriptor(uuid, value, d.Writable); err != nil {
			return fmt.Errorf("descriptors[%d]: %w", k, err)
		}
	}
	return nil
}

// Tokens returns every tokenized characteristic in declaration order.
func (p *Profile) Tokens() *orderedmap.OrderedMap[string, Characteristic] {
	tokens := orderedmap.New[string, Characteristic]()
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.Token != "" {
				tokens.Set(c.Token, c)
			}
		}
	}
	return tokens
}

// parseUUID accepts 16-bit and 128-bit UUIDs in any spelling bledb understands.
func parseUUID(s string) (ble.UUID, error) {
	n := bledb.NormalizeUUID(s)
	if n == "" {
		return nil, fmt.Errorf("malformed UUID %q", s)
	}
	u, err := ble.Parse(n)
	if err != nil {
		return nil, fmt.Errorf("malformed UUID %q: %v", s, err)
	}
	return u, nil
}

func parseValue(text, hexValue string) ([]byte, error) {
	if text != "" && hexValue != "" {
		return nil, errors.New("value and hex are mutually exclusive")
	}
	if hexValue == "" {
		if text == "" {
			return nil, nil
		}
		return []byte(text), nil
	}
	b, err := hex.DecodeString(strings.Join(strings.Fields(hexValue), ""))
	if err != nil {
		return nil, fmt.Errorf("malformed hex value %q: %v", hexValue, err)
	}
	return b, nil
}
