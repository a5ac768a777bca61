package middleware

import (
	"smallbiznis-missions/pkg/authz"
	"smallbiznis-missions/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const (
	HeaderMemberID   = "X-Member-ID"
	HeaderMemberRole = "X-Member-Role"

	identityKey = "identity"
)

// Identity is the caller resolved by the upstream gateway.
type Identity struct {
	MemberID string
	Role     string
}

func (i Identity) IsStaff() bool { return authz.IsStaff(i.Role) }

// Authenticate trusts the identity headers set by the gateway and checks
// the role against the route policy.
func Authenticate(enforcer *authz.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := Identity{
			MemberID: c.GetHeader(HeaderMemberID),
			Role:     c.GetHeader(HeaderMemberRole),
		}
		if id.Role == "" {
			id.Role = authz.RoleMember
		}
		if id.MemberID == "" {
			c.Error(errutil.Unauthorized("missing caller identity", nil))
			c.Abort()
			return
		}

		ok, err := enforcer.Allowed(id.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			c.Error(errutil.Internal("authorization failed", err))
			c.Abort()
			return
		}
		if !ok {
			c.Error(errutil.Forbidden("role not allowed for this route", nil))
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(Identity); ok {
			return id
		}
	}
	return Identity{}
}

// RequireSelf fails unless the caller is staff or is the addressed member.
func RequireSelf(c *gin.Context, memberID string) bool {
	id := GetIdentity(c)
	if id.IsStaff() || (id.MemberID != "" && id.MemberID == memberID) {
		return true
	}
	c.Error(errutil.Forbidden("cannot access another member's data", nil))
	return false
}
