package models

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Maintainer identifies who is responsible for a region's sources.
type Maintainer struct {
	Name   string `json:"name"`
	GitHub string `json:"github,omitempty"`
}

// Region is one region configuration document. It is loaded once per
// fetch invocation and immutable for the duration of the run.
type Region struct {
	Maintainers []Maintainer `json:"maintainers"`
	Sources     []Source     `json:"sources"`
}

var validate = validator.New()

func (r *Region) UnmarshalJSON(data []byte) error {
	var doc struct {
		Maintainers []Maintainer      `json:"maintainers"`
		Sources     []json.RawMessage `json:"sources"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	r.Maintainers = doc.Maintainers
	r.Sources = make([]Source, 0, len(doc.Sources))
	for i, raw := range doc.Sources {
		src, err := decodeSource(raw)
		if err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		r.Sources = append(r.Sources, src)
	}
	return nil
}

// decodeSource dispatches on the type discriminator. An unrecognized
// type is a configuration error the operator must fix.
func decodeSource(raw json.RawMessage) (Source, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var src Source
	switch head.Type {
	case "transitland-atlas":
		src = &TransitlandSource{}
	case "mobility-database":
		src = &MobilityDatabaseSource{}
	case "http":
		src = &HTTPSource{}
	case "url":
		src = &URLSource{}
	default:
		return nil, fmt.Errorf("unknown source type %q", head.Type)
	}

	if err := json.Unmarshal(raw, src); err != nil {
		return nil, err
	}
	if err := validate.Struct(src); err != nil {
		return nil, fmt.Errorf("source %q: %w", head.Type, err)
	}
	return src, nil
}

// LoadRegion reads and validates one region configuration document.
func LoadRegion(path string) (*Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading region config: %w", err)
	}

	var region Region
	if err := json.Unmarshal(data, &region); err != nil {
		return nil, fmt.Errorf("parsing region config %s: %w", path, err)
	}
	return &region, nil
}
