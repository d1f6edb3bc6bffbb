package pathmap

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ConfigVersion is the accepted path-mapping document version.
const ConfigVersion = "pathmapping-1.0"

type configDocument struct {
	Version          string `json:"version"`
	PathMappingRules []Rule `json:"path_mapping_rules"`
}

// ParseConfig reads a path-mapping configuration document:
//
//	{"version": "pathmapping-1.0", "path_mapping_rules": [...]}
//
// and returns the validated RuleSet.
func ParseConfig(data []byte) (*RuleSet, error) {
	var doc configDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing path mapping configuration")
	}
	if doc.Version != ConfigVersion {
		return nil, errors.Errorf("unrecognized path mapping version %q, expected %q", doc.Version, ConfigVersion)
	}
	return NewRuleSet(doc.PathMappingRules)
}
