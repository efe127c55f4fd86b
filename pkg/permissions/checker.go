// Package permissions checks permission lists against required permissions
// with support for wildcards.
//
// Permission Format:
//   - "*" - Full access (all permissions)
//   - "resource.*" - All actions on a resource (e.g., "inventory.*")
//   - "resource.action" - Specific action (e.g., "inventory.receive")
package permissions

import (
	"strings"
)

// Inventory permissions
const (
	InventoryRead    = "inventory.read"
	InventoryReceive = "inventory.receive"
	InventoryConsume = "inventory.consume"
	InventoryReturn  = "inventory.return"
	InventoryScan    = "inventory.scan"
	InventoryManage  = "inventory.manage"
)

// RolePermissions is the default grant for each POS role.
// Tokens may carry extra permissions that are merged on top.
var RolePermissions = map[string][]string{
	"cashier":        {InventoryRead, InventoryConsume},
	"stock_clerk":    {InventoryRead, InventoryReceive, InventoryConsume, InventoryScan},
	"branch_manager": {"inventory.*"},
	"admin":          {"*"},
}

// ForRole returns the role's default permissions merged with any explicit grants
func ForRole(role string, extra []string) []string {
	return MergePermissions(RolePermissions[strings.ToLower(role)], extra)
}

// HasPermission checks if the user's permissions include the required permission.
// Supports wildcard matching:
//   - "*" matches everything
//   - "inventory.*" matches "inventory.read", "inventory.receive", etc.
//   - Exact match for specific permissions
func HasPermission(userPerms []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range userPerms {
		if p == "*" || p == required {
			return true
		}
		if strings.HasSuffix(p, ".*") {
			prefix := strings.TrimSuffix(p, ".*")
			if strings.HasPrefix(required, prefix+".") {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission checks if the user has any of the required permissions.
func HasAnyPermission(userPerms []string, required []string) bool {
	for _, req := range required {
		if HasPermission(userPerms, req) {
			return true
		}
	}
	return false
}

// MergePermissions merges multiple permission sets, removing duplicates.
func MergePermissions(sets ...[]string) []string {
	seen := make(map[string]bool)
	var result []string

	for _, set := range sets {
		for _, p := range set {
			if !seen[p] {
				seen[p] = true
				result = append(result, p)
			}
		}
	}

	return result
}
