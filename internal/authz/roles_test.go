package authz

import "testing"

func TestRoles(t *testing.T) {
	r := NewRoles(1, []int64{2, 3})
	for _, id := range []int64{1, 2, 3} {
		if !r.IsAdmin(id) {
			t.Errorf("%d должен быть админом", id)
		}
	}
	if r.IsAdmin(4) {
		t.Error("4 не админ")
	}
	// владелец не задан
	if NewRoles(0, nil).IsAdmin(0) {
		t.Error("нулевой id никогда не админ")
	}
}
