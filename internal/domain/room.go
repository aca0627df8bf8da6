package domain

type RoomID string

// Room is the slice of the persisted room record the coordinator reads.
type Room struct {
	ID          RoomID `json:"code"`
	CurrentView string `json:"currentView"`
}
