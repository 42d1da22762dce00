package middlewares

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	mongodbadapter "github.com/casbin/mongodb-adapter/v3"
	"github.com/gin-gonic/gin"

	"linguahub/internal/apperr"
	"linguahub/internal/logger"
	"linguahub/models"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][3]string{
	{models.RoleAdmin, "user", "adjust_xp"},
	{models.RoleAdmin, "progress", "read"},
	{models.RoleModerator, "progress", "read"},
}

// RBAC checks admin permissions with casbin
type RBAC struct {
	enforcer *casbin.Enforcer
	log      *logger.Logger
}

// NewRBAC builds the enforcer. With persist set, policies live in the
// casbin_rule collection of the database named in mongoURI.
func NewRBAC(mongoURI string, persist bool, log *logger.Logger) (*RBAC, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create Casbin model: %w", err)
	}

	var enforcer *casbin.Enforcer
	if persist {
		adapter, err := mongodbadapter.NewAdapter(mongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to create Casbin adapter: %w", err)
		}
		enforcer, err = casbin.NewEnforcer(m, adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create Casbin enforcer: %w", err)
		}
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	} else {
		enforcer, err = casbin.NewEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create Casbin enforcer: %w", err)
		}
	}

	r := &RBAC{enforcer: enforcer, log: log.With("component", "rbac")}
	for _, p := range defaultPolicies {
		added, err := enforcer.AddPolicy(p[0], p[1], p[2])
		if err != nil {
			return nil, fmt.Errorf("add default policy %v: %w", p, err)
		}
		if added {
			r.log.Info("added default policy", "role", p[0], "resource", p[1], "action", p[2])
		}
	}
	return r, nil
}

// RequireAdmin lets through only learners flagged as admin
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(IsAdminKey) {
			AbortWithError(c, apperr.Forbidden("Admin access required"))
			return
		}
		c.Next()
	}
}

// Require checks that the caller's role may perform action on resource
func (r *RBAC) Require(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		if role == "" && c.GetBool(IsAdminKey) {
			role = models.RoleAdmin
		}
		if role == "" {
			AbortWithError(c, apperr.Forbidden("Admin role not found"))
			return
		}

		allowed, err := r.enforcer.Enforce(role, resource, action)
		if err != nil {
			r.log.Error("casbin enforce error", "error", err)
			AbortWithError(c, fmt.Errorf("permission check failed: %w", err))
			return
		}
		if !allowed {
			r.log.Info("permission denied", "role", role, "resource", resource, "action", action)
			AbortWithError(c, apperr.Forbidden("Insufficient permissions"))
			return
		}
		c.Next()
	}
}
