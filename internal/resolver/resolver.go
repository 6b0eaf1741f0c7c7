// Package resolver maps an external contact string (email, phone, or $tag)
// to an internal account. Resolution is a pure lookup: idempotent and free of
// side effects. An unresolved contact is not an error — the orchestrator
// holds the sender's funds on a pending request until the recipient enrolls.
package resolver

import (
	"context"
	"regexp"
	"strings"
)

// ContactKind classifies how a recipient was addressed.
type ContactKind string

const (
	ContactEmail   ContactKind = "email"
	ContactPhone   ContactKind = "phone"
	ContactTag     ContactKind = "tag"
	ContactUnknown ContactKind = "unknown"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	tagRe   = regexp.MustCompile(`^\$[a-zA-Z][a-zA-Z0-9_]{2,29}$`)
)

// Directory is the lookup the resolver consults. The postgres store
// implements it over the registered_contacts table.
type Directory interface {
	LookupContact(ctx context.Context, kind, contact string) (accountID int64, ok bool, err error)
}

// Resolver classifies contacts and resolves them against a Directory.
type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Classify determines the contact's addressing scheme and returns its
// normalized form: e-mails lowercased, phone numbers stripped of separators.
func Classify(contact string) (ContactKind, string) {
	c := strings.TrimSpace(contact)
	if emailRe.MatchString(c) {
		return ContactEmail, strings.ToLower(c)
	}
	digits := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(c)
	if phoneRe.MatchString(digits) {
		return ContactPhone, digits
	}
	if tagRe.MatchString(c) {
		return ContactTag, strings.ToLower(c)
	}
	return ContactUnknown, c
}

// Resolve maps a contact to an active internal account. ok=false means the
// contact is well-formed but not enrolled; the error path is reserved for
// store failures.
func (r *Resolver) Resolve(ctx context.Context, contact string) (int64, bool, error) {
	kind, normalized := Classify(contact)
	if kind == ContactUnknown {
		return 0, false, nil
	}
	return r.dir.LookupContact(ctx, string(kind), normalized)
}
