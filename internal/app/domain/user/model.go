// Package user holds the minimal identity shape the roster projections need.
// Account management itself lives outside this service.
package user

// User is a display identity resolved from the user directory.
type User struct {
	ID       string `db:"id" json:"id"`
	Handle   string `db:"handle" json:"handle"`
	Nickname string `db:"nickname" json:"nickname,omitempty"`
}
