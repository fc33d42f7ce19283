package authz

// Roles — владелец и администраторы бота.
type Roles struct {
	admins map[int64]struct{}
}

func NewRoles(owner int64, admins []int64) *Roles {
	r := &Roles{admins: make(map[int64]struct{}, len(admins)+1)}
	r.admins[owner] = struct{}{}
	for _, id := range admins {
		r.admins[id] = struct{}{}
	}
	return r
}

// IsAdmin — владелец тоже администратор.
func (r *Roles) IsAdmin(userID int64) bool {
	_, ok := r.admins[userID]
	return ok && userID != 0
}
