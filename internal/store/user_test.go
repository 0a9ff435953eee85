package store

import "testing"

func TestUser_LoginAndLogout(t *testing.T) {
	var changes []bool
	u := NewUser(false)
	u.OnChange = func(loggedIn bool) { changes = append(changes, loggedIn) }

	err := u.Login(map[string]any{
		"id":         int64(42),
		"email":      "ada@example.test",
		"username":   "ada",
		"created_at": int64(1700000000),
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	me, ok := u.Me()
	if !ok || me.ID != "42" || me.Email != "ada@example.test" || me.Username != "ada" || me.CreatedAt != 1700000000 {
		t.Fatalf("Me() = %+v, %v", me, ok)
	}
	if !u.IsLoggedIn() {
		t.Fatalf("IsLoggedIn() = false after Login")
	}

	// A repeated profile push does not flip the flag again.
	_ = u.Login(map[string]any{"id": int64(42)})
	u.Logout()
	if u.IsLoggedIn() {
		t.Fatalf("IsLoggedIn() = true after Logout")
	}
	if _, ok := u.Me(); ok {
		t.Fatalf("Me() still set after Logout")
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("OnChange calls = %v, want [true false]", changes)
	}
}

func TestUser_LoginRequiresID(t *testing.T) {
	u := NewUser(true)
	if err := u.Login(map[string]any{"email": "x"}); err == nil {
		t.Fatalf("Login() error = nil for payload without id")
	}
}
