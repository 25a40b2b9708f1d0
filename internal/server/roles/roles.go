// Package roles is the static role policy: the privilege order of roles and
// the table that maps request paths to the minimum role they require.
//
// Everything here is pure and read-only after construction.
package roles

import "strings"

type Role string

const (
	User   Role = "user"
	Editor Role = "editor"
	Admin  Role = "admin"
)

// Lowest and Highest bound the hierarchy; registration uses them.
const (
	Lowest  = User
	Highest = Admin
)

var rank = map[Role]int{
	User:   1,
	Editor: 2,
	Admin:  3,
}

// Parse returns the Role named s and whether it is known.
func Parse(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rank[r]
	return r, ok
}

// Rank is the privilege level of r; unknown roles rank 0.
func (r Role) Rank() int {
	return rank[r]
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	return string(r)
}

// Allows reports whether a requester holding have may enter a route that
// needs need. Unknown roles never pass.
func Allows(have, need Role) bool {
	if !have.Valid() || !need.Valid() {
		return false
	}
	return have.Rank() >= need.Rank()
}
