package domain

type RoomID string

// MembershipRecord is the persisted, authoritative view of a room:
// who owns it and who may join. It is read by the live layer and
// mutated only through the REST surface.
type MembershipRecord struct {
	RoomID  RoomID   `json:"room_id"`
	Owner   UserID   `json:"owner"`
	Members []UserID `json:"members"`
}

func (r *MembershipRecord) IsMember(id UserID) bool {
	for _, m := range r.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (r *MembershipRecord) IsOwner(id UserID) bool {
	return r.Owner == id
}
