package rbac

// Operator roles carried in access tokens, lowest privilege first.
const (
	// RoleViewer may read leads, reports and active calls.
	RoleViewer = "viewer"
	// RoleAdmin may also place outbound calls.
	RoleAdmin = "admin"
)

var rank = map[string]int{
	RoleViewer: 1,
	RoleAdmin:  2,
}

func IsKnownRole(role string) bool {
	_, ok := rank[role]
	return ok
}

// Satisfies reports whether role grants at least the privileges of min.
func Satisfies(role, min string) bool {
	have, ok := rank[role]
	return ok && have >= rank[min]
}
