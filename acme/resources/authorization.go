package resources

import "github.com/cpu/acmerenew/acme"

// The Identifier resource represents a subject identifier that can be included
// in a certificate.
//
// See:
// https://tools.ietf.org/html/rfc8555#section-7.5
// https://tools.ietf.org/html/rfc8555#section-9.7.7
//
// Only "dns" type identifiers are used by this module.
type Identifier struct {
	// The Type of the Identifier value.
	Type string `json:"type"`
	// The Identifier value.
	Value string `json:"value"`
}

// DNSIdentifiers builds "dns" identifiers for the given names.
func DNSIdentifiers(names []string) []Identifier {
	idents := make([]Identifier, 0, len(names))
	for _, name := range names {
		idents = append(idents, Identifier{Type: "dns", Value: name})
	}
	return idents
}

// The ACME Authorization resource represents an Account's authorization to
// issue for a specified identifier, based on interactions with associated
// Challenges.
//
// For information about the Authorization resource see
// https://tools.ietf.org/html/rfc8555#section-7.1.4
type Authorization struct {
	// The server-assigned ID (a URL) identifying the Authorization. Not part of
	// the JSON body, populated from the authorization URL.
	ID string `json:"-"`
	// The status of this authorization.
	Status acme.Status `json:"status"`
	// The identifier that the account holding this Authorization is authorized to
	// represent
	Identifier Identifier `json:"identifier"`
	// For pending authorizations, the challenges that the client can fulfill in
	// order to prove possession of the identifier.
	Challenges []Challenge `json:"challenges"`
	// A string representing a RFC 3339 date at which time the Authorization is
	// considered expired by the server.
	Expires string `json:"expires,omitempty"`
	Wildcard bool   `json:"wildcard,omitempty"`
}

// String returns the Authorization's server-assigned ID.
func (a Authorization) String() string {
	return a.ID
}

// ChallengeOfType returns the first challenge with the given type.
func (a Authorization) ChallengeOfType(typ string) (Challenge, bool) {
	for _, chall := range a.Challenges {
		if chall.Type == typ {
			return chall, true
		}
	}
	return Challenge{}, false
}
