package store

import "sync"

// Profile is the signed-in user as pushed by user_me_update.
type Profile struct {
	ID        string
	Email     string
	Username  string
	CreatedAt int64
	Locale    string
	Theme     int64
	Raw       Entity
}

// User tracks login state. OnChange, when set, runs after every change of
// the logged-in flag.
type User struct {
	mu       sync.RWMutex
	loggedIn bool
	profile  Profile
	OnChange func(loggedIn bool)
}

func NewUser(loggedIn bool) *User {
	return &User{loggedIn: loggedIn}
}

// Login records the profile carried by a user_me_update payload.
func (u *User) Login(payload any) error {
	entity, id, err := entityWithID(payload, "id")
	if err != nil {
		return err
	}
	profile := Profile{ID: id, Raw: entity}
	profile.Email, _ = entity["email"].(string)
	profile.Username, _ = entity["username"].(string)
	profile.Locale, _ = entity["locale"].(string)
	profile.CreatedAt, _ = entity["created_at"].(int64)
	profile.Theme, _ = entity["theme"].(int64)

	u.mu.Lock()
	u.profile = profile
	u.mu.Unlock()
	u.SetLoggedIn(true)
	return nil
}

func (u *User) SetLoggedIn(loggedIn bool) {
	u.mu.Lock()
	changed := u.loggedIn != loggedIn
	u.loggedIn = loggedIn
	onChange := u.OnChange
	u.mu.Unlock()
	if changed && onChange != nil {
		onChange(loggedIn)
	}
}

// Logout clears the profile and the logged-in flag.
func (u *User) Logout() {
	u.mu.Lock()
	u.profile = Profile{}
	u.mu.Unlock()
	u.SetLoggedIn(false)
}

func (u *User) IsLoggedIn() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.loggedIn
}

func (u *User) Me() (Profile, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.profile, u.profile.ID != ""
}
