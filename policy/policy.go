// Package policy holds the authorization and rate-limit objects a flow type
// names for each of its capabilities. Flow types refer to policies by name;
// a Catalog resolves the name when a request arrives.
package policy

// Request describes the caller of an operation.
type Request struct {
	Subject       string
	Authenticated bool
	Staff         bool
	Attrs         map[string]any
}

// Target is the run an operation acts on.
type Target struct {
	OwnerID   string
	Namespace string
	Type      string
}

// Authorizer decides whether a request may act on a target. A nil target
// asks about the collection, e.g. creating a new run.
type Authorizer interface {
	Allows(req Request, target *Target) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(req Request, target *Target) bool

// Allows implements Authorizer.
func (f AuthorizerFunc) Allows(req Request, target *Target) bool { return f(req, target) }

// Public allows every request.
func Public() Authorizer {
	return AuthorizerFunc(func(Request, *Target) bool { return true })
}

// Deny rejects every request.
func Deny() Authorizer {
	return AuthorizerFunc(func(Request, *Target) bool { return false })
}

// Authenticated allows authenticated requests.
func Authenticated() Authorizer {
	return AuthorizerFunc(func(req Request, _ *Target) bool { return req.Authenticated })
}

// Staff allows authenticated staff requests.
func Staff() Authorizer {
	return AuthorizerFunc(func(req Request, _ *Target) bool { return req.Authenticated && req.Staff })
}

// Owner allows authenticated requests on the collection and on runs the
// subject owns.
func Owner() Authorizer {
	return AuthorizerFunc(func(req Request, target *Target) bool {
		if !req.Authenticated {
			return false
		}
		return target == nil || target.OwnerID == req.Subject
	})
}
