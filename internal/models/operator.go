package models

// Account roles. Observers may read status, logs and archives; only
// operators change what the lock loop does.
const (
	RoleOperator = "operator"
	RoleObserver = "observer"
)

// Operator is a lab account.
type Operator struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

// Identity is the signed-in account a request acts for.
type Identity struct {
	OperatorID int    `json:"operator_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`
}

// CanCommand reports whether the account may start, stop or retune the loop.
func (i Identity) CanCommand() bool { return i.Role == RoleOperator }

// ValidRole reports whether role is one the server issues.
func ValidRole(role string) bool { return role == RoleOperator || role == RoleObserver }
