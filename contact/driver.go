package contact

import "github.com/dtnd/dtnd/bundle"

// CLDriver is the subset of the convergence-layer interface the Contact
// Manager needs to drive a Link's state machine (§4.5, §4.6): any
// cla.CL implementation satisfies this structurally, since cla's
// richer interface is declared over these same *Link/*Contact types.
type CLDriver interface {
	InitLink(link *Link, params map[string]string) error
	DeleteLink(link *Link) error
	OpenContact(c *Contact) error
	CloseContact(c *Contact) error
	SendBundle(c *Contact, b *bundle.Bundle)
	CancelBundle(c *Contact, b *bundle.Bundle) bool
	IsQueued(link *Link, b *bundle.Bundle) bool
}

// Resolver looks up the CLDriver registered under a link's CLName. The
// Contact Manager never hardcodes a transport: it defers to whatever
// cla.Manager (or test double) is supplied at construction.
type Resolver interface {
	Resolve(name string) (CLDriver, bool)
}
