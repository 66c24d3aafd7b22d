// internal/model/contact.go
package model

type Contact struct {
	ID        int64  `db:"id" json:"id"`
	OwnerID   string `db:"owner_id" json:"owner_id"`
	Phone     string `db:"phone" json:"phone"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	IsBlocked bool   `db:"is_blocked" json:"is_blocked"`
	// GroupIDs lists the contact groups this contact belongs to.
	GroupIDs []int64 `db:"group_ids" json:"group_ids,omitempty"`
}

type Conversation struct {
	ID        int64  `db:"id" json:"id"`
	ContactID int64  `db:"contact_id" json:"contact_id"`
	OwnerID   string `db:"owner_id" json:"owner_id"`
}
