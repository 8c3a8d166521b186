package proxyprovider

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"

	"github.com/pilab-dev/oauthdirac/domain"
)

var attributeNames = map[string]string{
	"2.5.4.3":                    "CN",
	"2.5.4.5":                    "serialNumber",
	"2.5.4.6":                    "C",
	"2.5.4.7":                    "L",
	"2.5.4.8":                    "ST",
	"2.5.4.10":                   "O",
	"2.5.4.11":                   "OU",
	"0.9.2342.19200300.100.1.1":  "UID",
	"0.9.2342.19200300.100.1.25": "DC",
	"1.2.840.113549.1.9.1":       "emailAddress",
}

// ParseProxy reads a PEM chain and returns the proxy it describes. The
// identity is the subject of the first certificate with the proxy CNs
// removed and the expiry is the earliest NotAfter of the chain.
func ParseProxy(text string) (*domain.Proxy, error) {
	rest := []byte(text)
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedProxy, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificate in response", ErrMalformedProxy)
	}

	expires := certs[0].NotAfter
	for _, c := range certs[1:] {
		if c.NotAfter.Before(expires) {
			expires = c.NotAfter
		}
	}
	subject, err := SubjectDN(certs[0].RawSubject)
	if err != nil {
		return nil, err
	}
	return &domain.Proxy{
		DN:        StripProxyCNs(subject),
		PEM:       text,
		ExpiresAt: expires.UTC(),
	}, nil
}

// SubjectDN renders a DER encoded subject in slash form, in RDN order.
// pkix.Name folds repeated CNs together, so the raw sequence is walked.
func SubjectDN(raw []byte) (string, error) {
	var seq pkix.RDNSequence
	if _, err := asn1.Unmarshal(raw, &seq); err != nil {
		return "", fmt.Errorf("%w: subject: %v", ErrMalformedProxy, err)
	}
	var b strings.Builder
	for _, rdn := range seq {
		for _, atv := range rdn {
			b.WriteString("/")
			b.WriteString(attributeName(atv.Type))
			b.WriteString("=")
			b.WriteString(fmt.Sprint(atv.Value))
		}
	}
	return b.String(), nil
}

func attributeName(oid asn1.ObjectIdentifier) string {
	if n, ok := attributeNames[oid.String()]; ok {
		return n
	}
	return oid.String()
}

// StripProxyCNs removes the CN components a proxy appends to the identity
// DN: numeric serials, "proxy" and "limited proxy".
func StripProxyCNs(dn string) string {
	for {
		i := strings.LastIndex(dn, "/CN=")
		if i < 0 {
			return dn
		}
		if !isProxyCN(dn[i+len("/CN="):]) {
			return dn
		}
		dn = dn[:i]
	}
}

func isProxyCN(v string) bool {
	if v == "proxy" || v == "limited proxy" {
		return true
	}
	_, err := strconv.ParseUint(v, 10, 64)
	return err == nil
}
