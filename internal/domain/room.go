package domain

// RoomName is the channel name participants join.
type RoomName string

type Room struct {
	Name RoomName
}
