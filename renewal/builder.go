package renewal

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/cpu/acmerenew/acme"
	"github.com/cpu/acmerenew/acme/client"
	"github.com/cpu/acmerenew/acme/keys"
)

// passwordBytes is the entropy of bundle passwords.
const passwordBytes = 32

// CertificateBuilder turns authorized orders into PKCS#12 bundles.
type CertificateBuilder struct {
	Log *logrus.Entry
	// Rand is the source of bundle passwords. Defaults to crypto/rand.
	Rand io.Reader
}

// NewCertificateBuilder returns a CertificateBuilder.
func NewCertificateBuilder(log *logrus.Entry) *CertificateBuilder {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CertificateBuilder{Log: log.WithField("component", "builder")}
}

// Build finalizes order with a CSR for a fresh RSA key, downloads the chain
// and returns it as a PKCS#12 bundle with a new random password. The first
// hostname is the common name.
func (b *CertificateBuilder) Build(ctx context.Context, order acme.Order, hostNames []string) ([]byte, string, error) {
	if len(hostNames) == 0 {
		return nil, "", errors.New("build certificate: no hostnames")
	}
	key, err := keys.NewSigner(keys.RSA)
	if err != nil {
		return nil, "", fmt.Errorf("generate certificate key: %w", err)
	}
	csr, _, err := client.CSR(hostNames[0], hostNames, key)
	if err != nil {
		return nil, "", fmt.Errorf("create CSR: %w", err)
	}

	if err := order.Finalize(ctx, csr); err != nil {
		return nil, "", fmt.Errorf("finalize order: %w", err)
	}
	chainPEM, err := order.Download(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("download certificate: %w", err)
	}
	chain, err := ParseChain(chainPEM)
	if err != nil {
		return nil, "", err
	}

	password, err := b.password()
	if err != nil {
		return nil, "", err
	}
	bundle, err := pkcs12.Modern.Encode(key, chain[0], chain[1:], password)
	if err != nil {
		return nil, "", fmt.Errorf("encode PKCS#12 bundle: %w", err)
	}
	b.Log.WithField("serial", chain[0].SerialNumber.Text(16)).
		Infof("Built certificate for %v expiring %s", hostNames, chain[0].NotAfter)
	return bundle, password, nil
}

func (b *CertificateBuilder) password() (string, error) {
	r := b.Rand
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, passwordBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generate bundle password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ParseChain parses the certificates of a PEM chain, leaf first.
func ParseChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate chain: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("certificate chain holds no certificates")
	}
	return chain, nil
}
