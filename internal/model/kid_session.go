package model

// KidSession is the signed payload carried by the kid session cookie.
// Times are epoch milliseconds.
type KidSession struct {
	ChildID      string `json:"childId"`
	IsKidSession bool   `json:"isKidSession"`
	ExpiresAt    int64  `json:"expiresAt"`
	IssuedAt     int64  `json:"issuedAt,omitempty"`
}
