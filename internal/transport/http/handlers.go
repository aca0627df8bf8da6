package http

import (
	"net/http"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/gin-gonic/gin"
)

// RoomReader is the read side of the coordinator.
type RoomReader interface {
	Stats(domain.RoomID) app.RoomStats
	Rooms() []app.RoomInfo
}

type RoomStatsResponse struct {
	RoomID domain.RoomID `json:"roomId"`
	app.RoomStats
}

type RoomsResponse struct {
	Rooms []app.RoomInfo `json:"rooms"`
	Count int            `json:"count"`
}

type Handlers struct {
	Rooms RoomReader
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/rooms", h.listRooms)
	r.GET("/rooms/:id/stats", h.roomStats)
}

func (h *Handlers) roomStats(c *gin.Context) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid room id"})
		return
	}
	c.JSON(http.StatusOK, RoomStatsResponse{
		RoomID:    domain.RoomID(id),
		RoomStats: h.Rooms.Stats(domain.RoomID(id)),
	})
}

func (h *Handlers) listRooms(c *gin.Context) {
	rooms := h.Rooms.Rooms()
	c.JSON(http.StatusOK, RoomsResponse{Rooms: rooms, Count: len(rooms)})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
