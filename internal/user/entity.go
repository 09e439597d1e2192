package user

// User is a stored account. Password holds a salted hash, never plain text.
type User struct {
	Username string `json:"username"`
	Password string `json:"-"`
}
