package models

import "time"

// Account is the local projection of a user of the auth provider.
// The primary key is the provider's subject id.
type Account struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name"`
	Nick      string    `json:"nick"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (v Account) DisplayName() string {
	if len(v.Nick) > 0 {
		return v.Nick
	}
	if len(v.Name) > 0 {
		return v.Name
	}
	return v.ID
}
