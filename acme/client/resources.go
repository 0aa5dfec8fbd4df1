package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/resources"
)

// CreateAccount creates the given Account resource with the ACME server.
// The Account is updated with the ID returned in the server's response's
// Location header if the operation is successful, otherwise an error is
// returned. A server that already knows the account key answers with 200
// and the existing account's Location, which is treated as success.
//
// Important: This function always agrees to the server's terms of service.
//
// For more information on account creation see
// https://tools.ietf.org/html/rfc8555#section-7.3
func (c *Client) CreateAccount(ctx context.Context, acct *resources.Account) error {
	if acct.ID != "" {
		return fmt.Errorf("create: account already exists under ID %q", acct.ID)
	}

	newAcctReq := struct {
		Contact   []string `json:"contact,omitempty"`
		ToSAgreed bool     `json:"termsOfServiceAgreed"`
	}{
		Contact:   acct.Contact,
		ToSAgreed: true,
	}

	reqBody, err := json.Marshal(&newAcctReq)
	if err != nil {
		return err
	}

	newAcctURL, ok := c.GetEndpointURL(acme.NEW_ACCOUNT_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"create: ACME server missing %q endpoint in directory",
			acme.NEW_ACCOUNT_ENDPOINT)
	}

	c.log.Debugf("Sending %q request (contact: %s) to %q",
		acme.NEW_ACCOUNT_ENDPOINT, acct.Contact, newAcctURL)
	resp, err := c.PostURL(ctx, newAcctURL, reqBody, &SigningOptions{
		EmbedKey: true,
		Signer:   acct.Signer,
	})
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if !statusIn(resp, http.StatusCreated, http.StatusOK) {
		return responseError("create", resp, http.StatusCreated, http.StatusOK)
	}

	locHeader := resp.Response.Header.Get("Location")
	if locHeader == "" {
		return fmt.Errorf("create: %w", errNoLocation)
	}

	// Store the Location header as the Account's ID
	acct.ID = locHeader
	if resp.Response.StatusCode == http.StatusOK {
		c.log.Infof("Using existing account with ID %q", acct.ID)
	} else {
		c.log.Infof("Created account with ID %q", acct.ID)
	}
	return nil
}

// CreateOrder creates the given Order resource with the ACME server. If the
// operation is successful the Order's ID field is populated with the value of
// the server's reply's Location header. Otherwise a non-nil error is returned.
//
// For more information on Order creation see "Applying for Certificate
// Issuance" in RFC 8555:
// https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) CreateOrder(ctx context.Context, order *resources.Order) error {
	if c.ActiveAccountID() == "" {
		return errors.New("createOrder: account is nil or has not been created")
	}

	req := struct {
		Identifiers []resources.Identifier `json:"identifiers"`
	}{
		Identifiers: order.Identifiers,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return err
	}

	newOrderURL, ok := c.GetEndpointURL(acme.NEW_ORDER_ENDPOINT)
	if !ok {
		return fmt.Errorf(
			"createOrder: ACME server missing %q endpoint in directory",
			acme.NEW_ORDER_ENDPOINT)
	}

	resp, err := c.PostURL(ctx, newOrderURL, reqBody, nil)
	if err != nil {
		return fmt.Errorf("createOrder: %w", err)
	}

	if !statusIn(resp, http.StatusCreated) {
		return responseError("createOrder", resp, http.StatusCreated)
	}

	locHeader := resp.Response.Header.Get("Location")
	if locHeader == "" {
		return fmt.Errorf("createOrder: %w", errNoLocation)
	}

	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return fmt.Errorf("createOrder: server returned invalid JSON: %w", err)
	}

	// Store the Location header as the Order's ID
	order.ID = locHeader
	c.log.Infof("Created new order with ID %q", order.ID)
	return nil
}

// UpdateOrder refreshes a given Order by fetching its ID URL from the ACME
// server. If this is successful the Order is mutated in place.
func (c *Client) UpdateOrder(ctx context.Context, order *resources.Order) error {
	if order == nil {
		return errors.New("updateOrder: order must not be nil")
	}
	if order.ID == "" {
		return errors.New("updateOrder: order must have an ID")
	}
	return c.fetchInto(ctx, "updateOrder", order.ID, order)
}

// UpdateAuthz refreshes a given Authorization by fetching its ID URL from the
// ACME server. If this is successful the Authorization is updated in place.
func (c *Client) UpdateAuthz(ctx context.Context, authz *resources.Authorization) error {
	if authz == nil {
		return errors.New("updateAuthz: authz must not be nil")
	}
	if authz.ID == "" {
		return errors.New("updateAuthz: authz must have an ID")
	}
	return c.fetchInto(ctx, "updateAuthz", authz.ID, authz)
}

// UpdateChallenge refreshes a given Challenge by fetching its URL from the ACME
// server. If this is successful the Challenge is updated in place.
func (c *Client) UpdateChallenge(ctx context.Context, chall *resources.Challenge) error {
	if chall == nil {
		return errors.New("updateChallenge: chall must not be nil")
	}
	if chall.URL == "" {
		return errors.New("updateChallenge: chall must have a URL")
	}
	return c.fetchInto(ctx, "updateChallenge", chall.URL, chall)
}

// ValidateChallenge tells the server the challenge response is in place by
// POSTing an empty JSON object to the challenge URL.
//
// See https://tools.ietf.org/html/rfc8555#section-7.5.1
func (c *Client) ValidateChallenge(ctx context.Context, chall *resources.Challenge) error {
	resp, err := c.PostURL(ctx, chall.URL, []byte("{}"), nil)
	if err != nil {
		return fmt.Errorf("validateChallenge: %w", err)
	}
	if !statusIn(resp, http.StatusOK) {
		return responseError("validateChallenge", resp, http.StatusOK)
	}
	return json.Unmarshal(resp.RespBody, chall)
}

// FinalizeOrder submits the DER encoded CSR to the order's finalize URL and
// polls the order until it is no longer processing. The order must end up
// valid.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4
func (c *Client) FinalizeOrder(ctx context.Context, order *resources.Order, csr []byte) error {
	if order.Finalize == "" {
		return fmt.Errorf("finalize: order %q has no finalize URL", order.ID)
	}

	reqBody, err := json.Marshal(struct {
		CSR string `json:"csr"`
	}{
		CSR: base64.RawURLEncoding.EncodeToString(csr),
	})
	if err != nil {
		return err
	}

	resp, err := c.PostURL(ctx, order.Finalize, reqBody, nil)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if !statusIn(resp, http.StatusOK) {
		return responseError("finalize", resp, http.StatusOK)
	}
	if err := json.Unmarshal(resp.RespBody, order); err != nil {
		return fmt.Errorf("finalize: server returned invalid JSON: %w", err)
	}

	for order.Status == acme.StatusProcessing {
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
		if err := c.UpdateOrder(ctx, order); err != nil {
			return err
		}
	}

	if order.Status != acme.StatusValid {
		if order.Error != nil {
			return fmt.Errorf("finalize: order %q is %q: %w", order.ID, order.Status, order.Error)
		}
		return fmt.Errorf("finalize: order %q is %q, not %q", order.ID, order.Status, acme.StatusValid)
	}
	return nil
}

// DownloadCertificate fetches the PEM certificate chain of a valid order.
//
// See https://tools.ietf.org/html/rfc8555#section-7.4.2
func (c *Client) DownloadCertificate(ctx context.Context, order *resources.Order) ([]byte, error) {
	if order.Status != acme.StatusValid {
		return nil, fmt.Errorf("getCert: order %q is status %q, not %q",
			order.ID, order.Status, acme.StatusValid)
	}
	if order.Certificate == "" {
		return nil, fmt.Errorf("getCert: order %q has no Certificate URL", order.ID)
	}

	resp, err := c.PostAsGetURL(ctx, order.Certificate)
	if err != nil {
		return nil, fmt.Errorf("getCert: %w", err)
	}
	if !statusIn(resp, http.StatusOK) {
		return nil, responseError("getCert", resp, http.StatusOK)
	}
	if ct := resp.Response.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, acme.PEM_CHAIN_CONTENT_TYPE) {
		return nil, fmt.Errorf("getCert: unexpected content type %q", ct)
	}
	return resp.RespBody, nil
}

// AuthzByIdentifier loops through the order's authorization URLs, fetching
// the authz object for each, and returns the one for identifier.
func (c *Client) AuthzByIdentifier(ctx context.Context, order *resources.Order, identifier string) (*resources.Authorization, error) {
	if order == nil {
		return nil, errors.New("AuthzByIdentifier: Order was nil")
	}
	for _, authzURL := range order.Authorizations {
		authz := &resources.Authorization{ID: authzURL}
		if err := c.UpdateAuthz(ctx, authz); err != nil {
			return nil, err
		}
		if authz.Identifier.Value == identifier {
			return authz, nil
		}
	}
	return nil, fmt.Errorf(
		"AuthzByIdentifier: Order %q has no authz with identifier %q",
		order.ID,
		identifier)
}

func (c *Client) fetchInto(ctx context.Context, op, url string, ob any) error {
	resp, err := c.PostAsGetURL(ctx, url)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !statusIn(resp, http.StatusOK) {
		return responseError(op, resp, http.StatusOK)
	}
	if err := json.Unmarshal(resp.RespBody, ob); err != nil {
		return fmt.Errorf("%s: server returned invalid JSON: %w", op, err)
	}
	return nil
}
