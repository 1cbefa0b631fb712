package model

import "time"

type Child struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parentId"`
	Name      string    `json:"name"`
	PINHash   string    `json:"pinHash"`
	CreatedAt time.Time `json:"createdAt"`
}
