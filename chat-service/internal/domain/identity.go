package domain

// Identity is a verified user.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}
