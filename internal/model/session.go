package model

import "time"

// Session is the parent (adult) session kept in the server-side session store.
type Session struct {
	UID            string
	AuthValid      bool
	AuthExpiration time.Time
}
