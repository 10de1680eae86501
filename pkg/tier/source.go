package tier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source loads tier definitions at startup.
type Source interface {
	Load(ctx context.Context) ([]Tier, error)
}

type inMemSource struct {
	tiers []Tier
}

// NewInMemSource returns a Source serving a copy of tiers.
func NewInMemSource(tiers ...Tier) Source {
	cp := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		cp = append(cp, clone(t))
	}
	return &inMemSource{tiers: cp}
}

func (s *inMemSource) Load(context.Context) ([]Tier, error) {
	out := make([]Tier, 0, len(s.tiers))
	for _, t := range s.tiers {
		out = append(out, clone(t))
	}
	return out, nil
}

type yamlFile struct {
	Tiers []Tier `yaml:"tiers"`
}

type yamlSource struct {
	path string
	data []byte
}

// NewYAMLSource reads tiers from a YAML file of the form:
//
//	tiers:
//	  - name: free
//	    rank: 0
//	    features: [basic_chat]
//	    quotas:
//	      api_calls: {limit: 100, window: daily}
//	  - name: pro
//	    rank: 1
//	    price_ref: price_123
func NewYAMLSource(path string) Source {
	return &yamlSource{path: path}
}

// NewYAMLSourceFromBytes parses tiers from an in-memory YAML document.
func NewYAMLSourceFromBytes(data []byte) Source {
	return &yamlSource{data: bytes.Clone(data)}
}

func (s *yamlSource) Load(context.Context) ([]Tier, error) {
	data := s.data
	if data == nil {
		var err error
		if data, err = os.ReadFile(s.path); err != nil {
			return nil, fmt.Errorf("read tiers file %s: %w", s.path, err)
		}
	}

	var doc yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode tiers: %w", err)
	}
	if len(doc.Tiers) == 0 {
		return nil, errors.New("tiers document defines no tiers")
	}
	return doc.Tiers, nil
}
