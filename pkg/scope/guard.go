package scope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corelinkhq/platform-core/internal/model"
	apperrors "github.com/corelinkhq/platform-core/pkg/errors"
	"github.com/corelinkhq/platform-core/pkg/logger"
	"github.com/corelinkhq/platform-core/pkg/metrics"
)

// ContextAuth is the gin context key the authentication middleware stores
// the caller identity under.
const ContextAuth = "auth_context"

// Request carries the target identifiers of one operation, split by
// origin so extraction priority (path, then query, then body) is
// explicit.
type Request struct {
	PathParams map[string]string
	Query      map[string]string
	Body       map[string]interface{}
}

// lookup resolves a field by extraction priority. The boolean reports
// whether the request named a target at all.
func (r Request) lookup(field string) (string, bool) {
	if v, ok := r.PathParams[field]; ok && v != "" {
		return v, true
	}
	if v, ok := r.Query[field]; ok && v != "" {
		return v, true
	}
	if v, ok := r.Body[field]; ok {
		if s := toString(v); s != "" {
			return s, true
		}
	}
	return "", false
}

// merged flattens the request into the Resource shape custom predicates
// receive. Path params win over query params, which win over the body.
func (r Request) merged() Resource {
	res := make(Resource, len(r.Body)+len(r.Query)+len(r.PathParams))
	for k, v := range r.Body {
		res[k] = v
	}
	for k, v := range r.Query {
		res[k] = v
	}
	for k, v := range r.PathParams {
		res[k] = v
	}
	return res
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case float64:
		return fmt.Sprintf("%v", s)
	default:
		return ""
	}
}

// Evaluate runs the policy state machine. It is a pure function of the
// policy, the caller and the request data; a nil return means ALLOW.
//
// For TENANT and SELF, a request that names no target id is allowed:
// row-level filtering in the query layer is the enforcement point for
// list-style endpoints, and this guard is only the fast-path denial.
// Failing closed here would break "list all mine" endpoints that filter
// by caller id server-side.
func Evaluate(p Policy, caller *Caller, req Request) *apperrors.AppError {
	if caller == nil {
		return apperrors.Unauthenticated(nil)
	}

	if IsSuperAdmin(caller.Roles) {
		return nil
	}

	switch p.Type {
	case TypeAll:
		if IsAdmin(caller.Roles) {
			return nil
		}
		return apperrors.Forbidden(p.denyMessage())

	case TypeTenant:
		if IsAdmin(caller.Roles) {
			return nil
		}
		target, ok := req.lookup(p.TenantField)
		if !ok {
			return nil
		}
		if target != caller.TenantID {
			return apperrors.Forbidden(p.denyMessage())
		}
		return nil

	case TypeSelf:
		if IsAdmin(caller.Roles) {
			return nil
		}
		// A path param literally named "id" identifies the owner
		// directly; otherwise fall back to the configured owner field.
		target := req.PathParams["id"]
		ok := target != ""
		if !ok {
			target, ok = req.lookup(p.OwnerField)
		}
		if !ok {
			return nil
		}
		if target != caller.ID {
			return apperrors.Forbidden(p.denyMessage())
		}
		return nil

	case TypeCustom:
		if IsAdmin(caller.Roles) {
			return nil
		}
		if p.Custom == nil {
			return apperrors.Misconfigured("scope: CUSTOM policy has no predicate")
		}
		if !p.Custom(*caller, req.merged()) {
			return apperrors.Forbidden(p.denyMessage())
		}
		return nil

	default:
		return apperrors.Misconfigured(fmt.Sprintf("scope: unknown policy type %q", p.Type))
	}
}

// Guard is the runtime interceptor applying registered policies before
// handlers execute.
type Guard struct {
	registry *Registry
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewGuard(registry *Registry, logger *logger.Logger, m *metrics.Metrics) *Guard {
	return &Guard{registry: registry, logger: logger, metrics: m}
}

// Enforce evaluates the registered policy, if any, for the matched route.
func (g *Guard) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		policy, ok := g.registry.Lookup(c.Request.Method, c.FullPath())
		if !ok {
			c.Next()
			return
		}

		caller := callerFrom(c)
		result := Evaluate(policy, caller, requestFrom(c))
		if result == nil {
			g.count(policy.Type, "allow")
			c.Next()
			return
		}

		g.count(policy.Type, "deny")
		g.logger.Warn("scope denial",
			"policy", string(policy.Type),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"code", int(result.Code),
		)
		c.AbortWithStatusJSON(result.StatusCode(), gin.H{
			"status":  "error",
			"message": result.Message,
		})
	}
}

func (g *Guard) count(t Type, outcome string) {
	if g.metrics != nil {
		g.metrics.ScopeDecisions.WithLabelValues(string(t), outcome).Inc()
	}
}

func callerFrom(c *gin.Context) *Caller {
	v, ok := c.Get(ContextAuth)
	if !ok {
		return nil
	}
	auth, ok := v.(*model.AuthContext)
	if !ok || auth == nil {
		return nil
	}
	return &Caller{ID: auth.UserID, TenantID: auth.TenantID, Roles: auth.Roles}
}

// requestFrom snapshots the request's identifiers. The body is read and
// restored so handlers can still bind it.
func requestFrom(c *gin.Context) Request {
	req := Request{
		PathParams: make(map[string]string, len(c.Params)),
		Query:      make(map[string]string),
	}
	for _, p := range c.Params {
		req.PathParams[p.Key] = p.Value
	}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			req.Query[k] = vs[0]
		}
	}

	if c.Request.Body != nil && c.Request.Method != http.MethodGet {
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil {
			c.Request.Body = io.NopCloser(bytes.NewBuffer(raw))
			if len(raw) > 0 {
				var body map[string]interface{}
				if json.Unmarshal(raw, &body) == nil {
					req.Body = body
				}
			}
		}
	}
	return req
}
