package template

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Parse decodes a template document into a JobTemplate. Decoding is strict:
// unknown fields are rejected so schema drift is caught at parse time rather
// than silently ignored. JSON documents parse too, JSON being a YAML subset.
func Parse(data []byte) (*JobTemplate, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t JobTemplate
	if err := dec.Decode(&t); err != nil {
		if err == io.EOF {
			return nil, errors.New("empty template document")
		}
		return nil, errors.Wrap(err, "parsing template document")
	}
	log.WithFields(log.Fields{
		"name":  t.Name,
		"steps": len(t.Steps),
	}).Debug("Parsed template document")
	return &t, nil
}
