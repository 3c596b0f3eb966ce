package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of the phase SLO configuration:
//
//	phases:
//	  backend:
//	    gates:
//	      - name: quality_threshold
//	        expression: code_quality_score >= 8.0 AND test_coverage >= 0.80
//	        severity: BLOCKING
//	        required_metrics: [code_quality_score, test_coverage]
//	  service_template:
//	    gates:
//	      - name: build_health
//	        expression: build_success_rate >= 0.95
//	        severity: WARNING
//	        required_metrics: [build_success_rate]
type Config struct {
	Phases map[string]PhaseConfig `yaml:"phases"`
}

// PhaseConfig holds the gates for one phase id.
type PhaseConfig struct {
	Gates []Gate `yaml:"gates"`
}

// ParseConfig decodes a YAML document into phase SLOs, sorted by phase
// id for deterministic engine construction.
func ParseConfig(data []byte) ([]PhaseSLO, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse SLO config: %w", err)
	}
	if len(cfg.Phases) == 0 {
		return nil, fmt.Errorf("SLO config defines no phases")
	}

	ids := make([]string, 0, len(cfg.Phases))
	for id := range cfg.Phases {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	slos := make([]PhaseSLO, 0, len(ids))
	for _, id := range ids {
		slos = append(slos, PhaseSLO{PhaseID: id, Gates: cfg.Phases[id].Gates})
	}
	return slos, nil
}

// LoadConfig reads and parses the SLO configuration file at path.
func LoadConfig(path string) ([]PhaseSLO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read SLO config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// LoadEngine is the startup entrypoint: load the configuration at path
// and compile it. Any gate expression that does not parse fails here,
// before the engine runs anything.
func LoadEngine(path string) (*Engine, error) {
	slos, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewEngine(slos)
}
