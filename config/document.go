package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cpu/acmerenew/model"
	"github.com/cpu/acmerenew/storage"
)

// Document is one configuration file.
type Document struct {
	// Source is the storage path the document was read from.
	Source       string           `json:"-" yaml:"-"`
	Acme         AcmeOptions      `json:"acme" yaml:"acme"`
	Certificates []RenewalOptions `json:"certificates" yaml:"certificates"`
}

// ParseDocument decodes a JSON or YAML document, chosen by the extension of
// name, applies defaults and validates it.
func ParseDocument(name string, data []byte) (*Document, error) {
	doc := &Document{Source: name, Acme: defaultAcmeOptions()}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, &model.ConfigurationError{Msg: fmt.Sprintf("parse %s", name), Err: err}
		}
	default:
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, &model.ConfigurationError{Msg: fmt.Sprintf("parse %s", name), Err: err}
		}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks the acme section and every certificate.
func (d *Document) Validate() error {
	if err := d.Acme.Validate(); err != nil {
		return fmt.Errorf("%s: %w", d.Source, err)
	}
	for i := range d.Certificates {
		if err := d.Certificates[i].Validate(); err != nil {
			return fmt.Errorf("%s: certificates[%d]: %w", d.Source, i, err)
		}
	}
	return nil
}

// ApplyOverrides sets overrides on every certificate of the document.
func (d *Document) ApplyOverrides(o Overrides) {
	for i := range d.Certificates {
		d.Certificates[i].Overrides = o
	}
}

// IsSample reports whether a config path is an example document that must
// not be processed.
func IsSample(p string) bool {
	return strings.HasPrefix(strings.ToLower(path.Base(p)), "sample.")
}

func isDocument(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// DocumentError is a document that could not be read or is invalid.
type DocumentError struct {
	Source string
	Err    error
}

// Error returns the error of the document, which names its source.
func (e *DocumentError) Error() string {
	return e.Err.Error()
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// SampleDocument is written below an empty config prefix as a starting
// point. Samples are never processed.
const SampleDocument = `{
  "acme": {
    "email": "admin@example.com",
    "staging": true,
    "renewXDaysBeforeExpiry": 30
  },
  "certificates": [
    {
      "hostNames": ["example.com", "www.example.com"],
      "targetResource": {"type": "cdn", "name": "example"}
    }
  ]
}
`

// LoadAll reads every document below prefix of store. Samples and files of
// other types are skipped. A document that cannot be loaded does not stop
// the others: the valid documents are returned together with the joined
// *DocumentError of the failed ones. Only a failure to list prefix returns
// no documents.
func LoadAll(ctx context.Context, store storage.ObjectStore, prefix string, log *logrus.Entry) ([]*Document, error) {
	paths, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list config documents: %w", err)
	}
	if len(paths) == 0 {
		seedSample(ctx, store, prefix, log)
		return nil, nil
	}

	var (
		docs []*Document
		errs []error
	)
	for _, p := range paths {
		if !isDocument(p) {
			continue
		}
		if IsSample(p) {
			log.Debugf("Skipping sample config %q", p)
			continue
		}
		doc, err := loadDocument(ctx, store, p)
		if err != nil {
			log.WithError(err).Errorf("Skipping invalid config %q", p)
			errs = append(errs, &DocumentError{Source: p, Err: err})
			continue
		}
		log.WithField("certificates", len(doc.Certificates)).Debugf("Loaded config %q", p)
		docs = append(docs, doc)
	}
	if len(docs) == 0 && len(errs) == 0 {
		log.Warnf("No config documents found below %q", prefix)
	}
	return docs, errors.Join(errs...)
}

func loadDocument(ctx context.Context, store storage.ObjectStore, p string) (*Document, error) {
	data, err := store.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", p, err)
	}
	return ParseDocument(p, data)
}

// seedSample writes SampleDocument below an empty prefix.
func seedSample(ctx context.Context, store storage.ObjectStore, prefix string, log *logrus.Entry) {
	p := path.Join(prefix, "sample.json")
	log.Warnf("No config documents found below %q, writing an example to %q", prefix, p)
	if err := store.Write(ctx, p, []byte(SampleDocument)); err != nil {
		log.WithError(err).Warn("Failed to write example config")
	}
}
