package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
)

const (
	RoleMember = "member"
	RoleStaff  = "staff"
)

var Module = fx.Module("authz", fx.Provide(NewEnforcer))

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
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// memberPolicies are the routes a member may call. Ownership of the
// addressed resource is checked again by the owning service.
var memberPolicies = [][]string{
	{RoleMember, "/v1/mission-days/:id", "GET"},
	{RoleMember, "/v1/mission-days/:id/claims", "POST"},
	{RoleMember, "/v1/participations", "GET"},
	{RoleMember, "/v1/participations/:id", "GET"},
	{RoleMember, "/v1/participations/:id/cancel", "POST"},
	{RoleMember, "/v1/participations/:id/evidence", "*"},
	{RoleMember, "/v1/evidence/uploads", "POST"},
	{RoleMember, "/v1/members/:id/balance", "GET"},
	{RoleMember, "/v1/members/:id/ledger", "GET"},
	{RoleMember, "/v1/payout-accounts", "*"},
	{RoleMember, "/v1/payout-accounts/:id/primary", "POST"},
	{RoleMember, "/v1/payouts", "*"},
	{RoleMember, "/v1/payouts/:id", "GET"},
}

type Enforcer struct {
	e *casbin.Enforcer
}

func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if _, err := e.AddPolicies(memberPolicies); err != nil {
		return nil, err
	}
	if _, err := e.AddPolicy(RoleStaff, "/v1/*", "*"); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy(RoleStaff, RoleMember); err != nil {
		return nil, err
	}

	return &Enforcer{e: e}, nil
}

func (a *Enforcer) Allowed(role, path, method string) (bool, error) {
	return a.e.Enforce(role, path, method)
}

func IsStaff(role string) bool { return role == RoleStaff }
