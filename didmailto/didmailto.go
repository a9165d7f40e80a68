// Package didmailto converts between email addresses and did:mailto
// identifiers. A did:mailto DID has the form
// did:mailto:<domain>:<percent-encoded-local-part>.
package didmailto

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/storacha/go-ucanto/did"
)

const prefix = "did:mailto:"

// FromEmail creates a did:mailto DID from an email address.
func FromEmail(email string) (did.DID, error) {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return did.Undef, fmt.Errorf("invalid email address: %s", email)
	}
	return did.Parse(prefix + domain + ":" + url.PathEscape(local))
}

// ToEmail extracts the email address encoded in a did:mailto DID.
func ToEmail(d did.DID) (string, error) {
	str := d.String()
	if !strings.HasPrefix(str, prefix) {
		return "", fmt.Errorf("not a did:mailto identifier: %s", str)
	}
	domain, local, found := strings.Cut(str[len(prefix):], ":")
	if !found || domain == "" || local == "" {
		return "", fmt.Errorf("malformed did:mailto identifier: %s", str)
	}
	decoded, err := url.PathUnescape(local)
	if err != nil {
		return "", fmt.Errorf("decoding local part: %s", err)
	}
	return decoded + "@" + domain, nil
}
