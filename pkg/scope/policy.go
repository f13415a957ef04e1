package scope

// Type classifies how access to a resource is authorized.
type Type string

const (
	// TypeAll restricts the operation to admins.
	TypeAll Type = "ALL"
	// TypeTenant restricts the operation to the caller's tenant.
	TypeTenant Type = "TENANT"
	// TypeSelf restricts the operation to resources the caller owns.
	TypeSelf Type = "SELF"
	// TypeCustom delegates the decision to a registered predicate.
	TypeCustom Type = "CUSTOM"
)

// Caller is the identity a policy is evaluated against.
type Caller struct {
	ID       string
	TenantID string
	Roles    []string
}

// Resource is the merged path, query and body data of the request.
type Resource map[string]interface{}

// Predicate decides CUSTOM policies over well-defined shapes instead of
// untyped blobs.
type Predicate func(caller Caller, resource Resource) bool

// Policy is declarative authorization metadata attached to an operation
// at registration time. Policies are immutable after registration.
type Policy struct {
	Type         Type
	OwnerField   string
	TenantField  string
	Custom       Predicate
	ErrorMessage string
}

// Option configures a Policy at registration time.
type Option func(*Policy)

func WithOwnerField(field string) Option {
	return func(p *Policy) { p.OwnerField = field }
}

func WithTenantField(field string) Option {
	return func(p *Policy) { p.TenantField = field }
}

func WithPredicate(fn Predicate) Option {
	return func(p *Policy) { p.Custom = fn }
}

func WithErrorMessage(msg string) Option {
	return func(p *Policy) { p.ErrorMessage = msg }
}

// Require builds a policy for an operation.
func Require(t Type, opts ...Option) Policy {
	p := Policy{
		Type:        t,
		OwnerField:  "userId",
		TenantField: "tenantId",
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// denyMessage is what the caller sees on denial. It never explains the
// decision in terms of other tenants' data.
func (p Policy) denyMessage() string {
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	switch p.Type {
	case TypeAll:
		return "administrator access required"
	case TypeTenant:
		return "access restricted to your tenant"
	case TypeSelf:
		return "access restricted to your own resources"
	case TypeCustom:
		return "access denied"
	default:
		return "access denied"
	}
}
