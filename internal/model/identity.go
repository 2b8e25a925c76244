package model

// Identity is the caller as seen by the messaging core. Authentication happens elsewhere;
// Token is passed through to the transport and the store untouched.
type Identity struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	IsAgent bool   `json:"isAgent"`
	Token   string `json:"-"`
}

// HomeRoom is the room a customer talks in. Agents have none.
func (id Identity) HomeRoom() string {
	if id.IsAgent {
		return ""
	}
	return id.UserID
}

// Remote reports whether a typing event with the given agent flag came from the other party.
func (id Identity) Remote(isAgent bool) bool {
	return isAgent != id.IsAgent
}
