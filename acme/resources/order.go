package resources

import "github.com/cpu/acmerenew/acme"

// The Order resource represents a collection of identifiers that an account
// wishes to create a Certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
type Order struct {
	// The server-assigned ID (a URL) identifying the Order, taken from the
	// Location header of the newOrder response.
	ID string `json:"-"`
	// The Status of the Order.
	Status acme.Status `json:"status"`
	// The Identifiers the Order wishes to finalize a Certificate for once the
	// Order is ready.
	Identifiers []Identifier `json:"identifiers"`
	// A list of URLs for Authorization resources the server specifies for the
	// Order Identifiers.
	Authorizations []string `json:"authorizations"`
	// A URL used to Finalize the Order with a CSR once the Order has a status of
	// "ready".
	Finalize string `json:"finalize"`
	// A URL used to fetch the Certificate issued by the server for the Order
	// after being Finalized.
	Certificate string `json:"certificate,omitempty"`
	// The error that occurred while processing the order, if any.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's ID URL.
func (o Order) String() string {
	return o.ID
}
