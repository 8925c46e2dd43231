package auth

// Role は利用者の権限区分。継承ではなく権限集合で判定する。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleFaculty   Role = "faculty"
	RoleStudent   Role = "student"
)

type Permission string

const (
	PermCatalogRead   Permission = "catalog:read"
	PermCatalogWrite  Permission = "catalog:write"
	PermMembersRead   Permission = "members:read"
	PermMembersWrite  Permission = "members:write"
	PermMembersDelete Permission = "members:delete"
	PermLoansIssue    Permission = "loans:issue"
	PermLoansReturn   Permission = "loans:return"
	PermLoansReadAll  Permission = "loans:read_all"
	PermLoansReadOwn  Permission = "loans:read_own"
	PermReportsRead   Permission = "reports:read"
	PermAccountsWrite Permission = "accounts:write"
	// 持ち込み図書の記録
	PermLogsWrite Permission = "logs:write"
	PermLogsRead  Permission = "logs:read"
)

var staffPermissions = []Permission{
	PermCatalogRead, PermCatalogWrite,
	PermMembersRead, PermMembersWrite,
	PermLoansIssue, PermLoansReturn, PermLoansReadAll, PermLoansReadOwn,
	PermReportsRead,
	PermLogsWrite, PermLogsRead,
}

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleAdmin:     setOf(append(staffPermissions, PermAccountsWrite, PermMembersDelete)...),
	RoleLibrarian: setOf(staffPermissions...),
	RoleFaculty:   setOf(PermCatalogRead, PermLoansReadOwn, PermLogsWrite),
	RoleStudent:   setOf(PermCatalogRead, PermLoansReadOwn, PermLogsWrite),
}

func setOf(perms ...Permission) map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return m
}

// Can: ロール r が権限 p を持つか。未知のロールは何も持たない。
func Can(r Role, p Permission) bool {
	_, ok := rolePermissions[r][p]
	return ok
}

func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}
