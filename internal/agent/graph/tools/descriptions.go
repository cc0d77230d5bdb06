package tools

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed descriptions.yaml
var descriptionsYAML []byte

type description struct {
	Desc     string `yaml:"desc"`
	Document string `yaml:"document"`
}

func loadDescriptions() (map[string]description, error) {
	var out map[string]description
	if err := yaml.Unmarshal(descriptionsYAML, &out); err != nil {
		return nil, fmt.Errorf("parse tool descriptions: %w", err)
	}
	return out, nil
}
