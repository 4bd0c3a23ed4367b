package service

import domainauth "github.com/target/rolefusion/internal/domain/auth"

// RouteRequirement is what a route guard checks before rendering a page.
type RouteRequirement struct {
	Public       bool
	RequiredRole domainauth.Role
}

// Route is one entry of the dashboard's page table.
type Route struct {
	Key          string          `json:"key"`
	Path         string          `json:"path"`
	Title        string          `json:"title"`
	Public       bool            `json:"public,omitempty"`
	RequiredRole domainauth.Role `json:"required_role,omitempty"`
}

// Requirement returns the guard requirement of r.
func (r Route) Requirement() RouteRequirement {
	return RouteRequirement{Public: r.Public, RequiredRole: r.RequiredRole}
}

// LoginPath is where unauthenticated callers are sent.
const LoginPath = "/login"

// DefaultRoutes returns the dashboard page table.
func DefaultRoutes() []Route {
	return []Route{
		{Key: "HOME", Path: "/", Title: "Dashboard"},
		{Key: "LOGIN", Path: LoginPath, Title: "Login", Public: true},
		{Key: "DATA_GRID", Path: "/data-grid", Title: "Data Grid"},
		{Key: "WORKFLOWS", Path: "/workflows", Title: "Workflows"},
		{Key: "WORKFLOW_EDITOR", Path: "/workflow-editor", Title: "Workflow Editor"},
		{Key: "ORDERS", Path: "/orders", Title: "Orders"},
		{Key: "USERS", Path: "/users", Title: "Users", RequiredRole: domainauth.RoleAdmin},
		{Key: "REPORTS", Path: "/reports", Title: "Reports"},
		{Key: "SETTINGS", Path: "/settings", Title: "Settings"},
	}
}
