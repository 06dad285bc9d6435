package models

type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Room is a two party conversation.
type Room struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Counterpart returns the participant that is not selfID.
func (r *Room) Counterpart(selfID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *Room) Has(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
