package usage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rate is the price of one million tokens in USD. Because one USD per
// million tokens equals one micro-USD per token, rates double as
// per-token micro-USD prices.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps model names to rates. Matching is exact first, then the
// longest table entry that prefixes the model name, so dated variants
// like gpt-4o-2024-08-06 price as gpt-4o.
type Table map[string]Rate

// DefaultTable is the compiled-in rate table, used when no pricing file
// is configured.
func DefaultTable() Table {
	return Table{
		"gpt-4o":        {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
		"o1":            {Input: 15.00, Output: 60.00},
		"o1-mini":       {Input: 3.00, Output: 12.00},
		"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
		"gpt-4":         {Input: 30.00, Output: 60.00},
		"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
	}
}

// LoadTable reads a YAML rate table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("usage: read pricing file: %w", err)
	}

	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("usage: parse pricing file: %w", err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("usage: pricing file %s has no entries", path)
	}

	return table, nil
}

// Lookup finds the rate for a model. ok is false for unknown models.
func (t Table) Lookup(model string) (Rate, bool) {
	if rate, ok := t[model]; ok {
		return rate, true
	}

	best := ""
	for name := range t {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t[best], true
	}

	return Rate{}, false
}
