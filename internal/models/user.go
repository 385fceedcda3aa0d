package models

// User is the per-patient record. ID is the opaque identifier assigned by the
// store and is the realtime room key; PatientID is the client-chosen login id.
type User struct {
	ID          string    `json:"_id"`
	PatientID   string    `json:"patientId"`
	Username    string    `json:"username"`
	Password    string    `json:"-"`
	Role        string    `json:"role"`
	Age         int       `json:"age"`
	Predictions *Message  `json:"predictions"`
	Messages    []Message `json:"messages"`
}

// Clone deep-copies the record so callers can mutate it freely.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.Predictions != nil {
		p := u.Predictions.Clone()
		out.Predictions = &p
	}
	out.Messages = make([]Message, len(u.Messages))
	for i, m := range u.Messages {
		out.Messages[i] = m.Clone()
	}
	return &out
}
