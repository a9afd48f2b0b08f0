package models

// Identity is the signed-in user as reported by the identity provider.
// The zero value means nobody is signed in, which disables both sync components.
type Identity struct {
	// UserID is the stable identifier of the user across devices.
	UserID string

	// DisplayName is the name shown to counterparts on mirrored records.
	DisplayName string
}

// SignedIn reports whether the identity carries a user.
func (i Identity) SignedIn() bool {
	return i.UserID != ""
}
