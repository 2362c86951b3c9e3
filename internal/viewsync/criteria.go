package viewsync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentworkforce/indicators/internal/analytics"
)

// CriteriaFile is the YAML document the watcher reads, e.g.
//
//	siteId: 2
//	frequency: monthly
//	year: 2024
//	worstLimit: 10
type CriteriaFile struct {
	analytics.Criteria `yaml:",inline"`
	WorstLimit         int `yaml:"worstLimit,omitempty"`
}

// LoadCriteria reads a criteria file. A missing or empty file means no
// filtering.
func LoadCriteria(path string) (CriteriaFile, error) {
	var cf CriteriaFile
	if path == "" {
		return cf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cf, nil
		}
		return cf, err
	}
	return ParseCriteria(data)
}

func ParseCriteria(data []byte) (CriteriaFile, error) {
	var cf CriteriaFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		if errors.Is(err, io.EOF) {
			return CriteriaFile{}, nil
		}
		return CriteriaFile{}, fmt.Errorf("parse criteria: %w", err)
	}
	if cf.WorstLimit < 0 {
		return CriteriaFile{}, fmt.Errorf("parse criteria: worstLimit must not be negative")
	}
	if cf.Frequency != "" {
		freq, ok := analytics.LookupFrequency(string(cf.Frequency))
		if !ok {
			return CriteriaFile{}, fmt.Errorf("parse criteria: unknown frequency %q", cf.Frequency)
		}
		cf.Frequency = freq
	}
	return cf, nil
}
