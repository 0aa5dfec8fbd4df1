package client

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
)

// PEMCSR is the PEM encoding of an x509 Certificate Signing Request (CSR)
type PEMCSR string

// CSR produces a CertificateSigningRequest for the provided commonName and SAN
// names, signed by key. If no commonName is provided the first of the names
// will be used. CSR returns the DER bytes of the CSR as well as its PEM
// encoding.
func CSR(commonName string, names []string, key crypto.Signer) ([]byte, PEMCSR, error) {
	if len(names) == 0 {
		return nil, PEMCSR(""), errors.New("no names specified")
	}
	if key == nil {
		return nil, PEMCSR(""), errors.New("no key specified")
	}

	if commonName == "" {
		commonName = names[0]
	}

	template := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: commonName,
		},
		DNSNames: names,
	}

	csrBytes, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return nil, PEMCSR(""), err
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type: "CERTIFICATE REQUEST", Bytes: csrBytes,
	})

	return csrBytes, PEMCSR(pemBytes), nil
}
