package models

import "time"

// User is the directory view of an account.
type User struct {
	ID       int       `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Handle   string    `db:"handle" json:"handle,omitempty"`
	Avatar   string    `db:"avatar" json:"avatar,omitempty"`
	LastSeen time.Time `db:"last_seen" json:"lastSeen"`
}

// Sidebar is everything needed to render a user's conversation list.
type Sidebar struct {
	Users          []User          `json:"users"`
	UnseenMessages map[int]int     `json:"unseenMessages"`
	LastMessages   map[int]Message `json:"lastMessages"`
	OnlineUsers    []int           `json:"onlineUsers"`
}
