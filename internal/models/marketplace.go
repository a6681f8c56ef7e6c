package models

// Deal is the read-only view of a marketplace deal used by the chat layer.
type Deal struct {
	ID       int     `db:"id" json:"id"`
	Title    string  `db:"title" json:"title"`
	Price    float64 `db:"price" json:"price"`
	SellerID int     `db:"seller_id" json:"seller_id"`
}

// User is the read-only view of a marketplace user, including its shadow chat credentials.
type User struct {
	ID           int    `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	ChatHandle   string `db:"chat_handle" json:"chat_handle,omitempty"`
	ChatPassword string `db:"chat_password" json:"-"`
}

// HasChatAccount reports whether the user has been provisioned with shadow chat credentials.
func (u User) HasChatAccount() bool {
	return u.ChatHandle != "" && u.ChatPassword != ""
}

// ShadowAccount is a freshly provisioned chat credential pair.
type ShadowAccount struct {
	Handle   string `json:"handle"`
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}
