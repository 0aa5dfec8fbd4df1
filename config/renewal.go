package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cpu/acmerenew/model"
)

// Selector picks a provider implementation by Type. Name backs default
// values of the provider's properties.
type Selector struct {
	Type       string         `json:"type" yaml:"type"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Is reports whether the selector has the given type, ignoring case.
func (s *Selector) Is(typ string) bool {
	return s != nil && strings.EqualFold(s.Type, typ)
}

// DecodeProperties decodes Properties into out, a pointer to a provider's
// options struct. Nil properties leave out untouched.
func (s *Selector) DecodeProperties(out any) error {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	raw, err := json.Marshal(s.Properties)
	if err != nil {
		return &model.ConfigurationError{Msg: fmt.Sprintf("%s properties", s.Type), Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &model.ConfigurationError{Msg: fmt.Sprintf("%s properties", s.Type), Err: err}
	}
	return nil
}

func (s *Selector) String() string {
	if s == nil {
		return "<none>"
	}
	if s.Name == "" {
		return s.Type
	}
	return fmt.Sprintf("%s %q", s.Type, s.Name)
}

// Overrides force renewal of otherwise valid certificates.
type Overrides struct {
	// ForceNewCertificate renews certificates even when they are valid.
	ForceNewCertificate bool `json:"forceNewCertificate" yaml:"forceNewCertificate"`
	// DomainsToForce limits ForceNewCertificate to certificates sharing at
	// least one of these hostnames. Empty means all certificates.
	DomainsToForce []string `json:"domainsToForce,omitempty" yaml:"domainsToForce,omitempty"`
}

// Forces reports whether the overrides force renewal of a certificate for
// hostNames.
func (o Overrides) Forces(hostNames []string) bool {
	if !o.ForceNewCertificate {
		return false
	}
	return len(o.DomainsToForce) == 0 || model.IntersectsHostNames(o.DomainsToForce, hostNames)
}

// RenewalOptions describe one certificate to manage.
type RenewalOptions struct {
	HostNames          []string  `json:"hostNames" yaml:"hostNames"`
	ChallengeResponder *Selector `json:"challengeResponder,omitempty" yaml:"challengeResponder,omitempty"`
	CertificateStore   *Selector `json:"certificateStore,omitempty" yaml:"certificateStore,omitempty"`
	TargetResource     *Selector `json:"targetResource" yaml:"targetResource"`
	Overrides          Overrides `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Validate checks required fields. Selector types are checked when the
// providers are resolved.
func (o *RenewalOptions) Validate() error {
	if len(o.HostNames) == 0 {
		return model.NewConfigurationError("hostNames must not be empty")
	}
	for i, name := range o.HostNames {
		if strings.TrimSpace(name) == "" {
			return model.NewConfigurationError("hostNames[%d] is empty", i)
		}
	}
	if o.TargetResource == nil {
		return model.NewConfigurationError("targetResource is required for [%s]", strings.Join(o.HostNames, ", "))
	}
	if o.TargetResource.Type == "" {
		return model.NewConfigurationError("targetResource.type is required for [%s]", strings.Join(o.HostNames, ", "))
	}
	for _, sel := range []*Selector{o.ChallengeResponder, o.CertificateStore} {
		if sel != nil && sel.Type == "" {
			return model.NewConfigurationError("selector type is required for [%s]", strings.Join(o.HostNames, ", "))
		}
	}
	return nil
}
