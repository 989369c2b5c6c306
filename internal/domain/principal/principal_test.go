package principal

import "testing"

func TestPrincipal_Can(t *testing.T) {
	t.Parallel()

	p := Principal{
		ID:       "u1",
		TenantID: "t1",
		Type:     ActorUser,
		Active:   true,
		Roles: []Role{
			{Name: "member", Permissions: []Permission{"task.create", "task.read"}},
			{Name: "reviewer", Permissions: []Permission{"task.read", "board.read"}},
		},
	}

	if !p.Can("task.create") {
		t.Error("Can(task.create) = false, want true")
	}
	if p.Can("board.delete") {
		t.Error("Can(board.delete) = true, want false")
	}

	p.Active = false
	if p.Can("task.create") {
		t.Error("inactive principal Can(task.create) = true, want false")
	}
}

func TestPrincipal_Permissions(t *testing.T) {
	t.Parallel()

	p := Principal{Roles: []Role{
		{Name: "a", Permissions: []Permission{"task.read", "task.create"}},
		{Name: "b", Permissions: []Permission{"task.read", "board.read"}},
	}}
	got := p.Permissions()
	want := []Permission{"task.read", "task.create", "board.read"}
	if len(got) != len(want) {
		t.Fatalf("Permissions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Permissions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseActorType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"USER", "SERVICE", "INTEGRATION"} {
		if _, err := ParseActorType(s); err != nil {
			t.Errorf("ParseActorType(%q) error: %v", s, err)
		}
	}
	if _, err := ParseActorType("robot"); err == nil {
		t.Error("ParseActorType(robot) expected error")
	}
}
