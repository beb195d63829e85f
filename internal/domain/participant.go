package domain

// Participant represents user's participation meta for a live room
// session. A participant may hold several connections (tabs, devices);
// the transport handles live on the registry side, not here.
type Participant struct {
	User *User
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(user *User) *Participant {
	return &Participant{User: user}
}
