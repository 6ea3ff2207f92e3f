package phenotype

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Code is an ICD-9 code. Definition files mix quoted and bare numeric codes,
// so the raw scalar text is kept.
type Code string

func (c *Code) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: code must be a scalar", value.Line)
	}
	*c = Code(value.Value)
	return nil
}

type Group struct {
	ID             int    `yaml:"id" json:"id"`
	Type           string `yaml:"type" json:"type"`
	Codes          []Code `yaml:"codes" json:"codes"`
	UseInBenchmark bool   `yaml:"use_in_benchmark" json:"use_in_benchmark"`
}

// Definitions maps a phenotype group name to its codes.
type Definitions map[string]Group

func Load(path string) (Definitions, error) {
	if path == "" {
		return DefaultDefinitions(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("parsing phenotype definitions %s: %w", path, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("phenotype definitions %s empty", path)
	}
	return defs, nil
}

// BenchmarkGroups lists the groups flagged for labeling, sorted by name.
func (d Definitions) BenchmarkGroups() []string {
	var names []string
	for name, g := range d {
		if g.UseInBenchmark {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultDefinitions is a small built-in set used when no file is configured.
func DefaultDefinitions() Definitions {
	return Definitions{
		"Acute and unspecified renal failure": {
			ID: 157, Type: "acute", UseInBenchmark: true,
			Codes: []Code{"5845", "5846", "5847", "5848", "5849", "586"},
		},
		"Essential hypertension": {
			ID: 98, Type: "chronic", UseInBenchmark: true,
			Codes: []Code{"4010", "4011", "4019"},
		},
		"Septicemia (except in labor)": {
			ID: 2, Type: "acute", UseInBenchmark: true,
			Codes: []Code{"0380", "03810", "03811", "03819", "0382", "0383", "03840", "03841", "03842", "03843", "03844", "03849", "0388", "0389", "0545", "449", "77181", "99591", "99592"},
		},
		"Coronary atherosclerosis and other heart disease": {
			ID: 101, Type: "chronic", UseInBenchmark: true,
			Codes: []Code{"41400", "41401", "41402", "41403", "41404", "41405", "41406", "41407", "4142", "4143", "4144", "4148", "4149"},
		},
		"Residual codes; unclassified": {
			ID: 259, Type: "unknown", UseInBenchmark: false,
			Codes: []Code{"V8801", "V8802", "V8803"},
		},
	}
}
