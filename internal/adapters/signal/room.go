package signal

import (
	"context"

	"github.com/dkeye/Boardly/internal/domain"
)

type userPayload struct {
	ID      string `json:"id" validate:"required,max=64"`
	Name    string `json:"name" validate:"max=64"`
	IsTutor bool   `json:"isTutor"`
}

type joinPayload struct {
	RoomID domain.RoomID `json:"roomId" validate:"required,max=64"`
	User   userPayload   `json:"user"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId" validate:"max=64"`
}

type heartbeatPayload struct {
	UserID domain.UserID `json:"userId" validate:"required,max=64"`
	RoomID domain.RoomID `json:"roomId" validate:"max=64"`
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, c *WsSignalConn, data []byte) error {
	var p joinPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	user := domain.User{ID: domain.UserID(p.User.ID), Name: p.User.Name, IsTutor: p.User.IsTutor}
	return ctl.Orch.Join(ctx, c.id, p.RoomID, user)
}

func (ctl *SignalWSController) handleLeave(c *WsSignalConn, data []byte) error {
	var p roomPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	ctl.Orch.Leave(c.id, p.RoomID)
	return nil
}

func (ctl *SignalWSController) handleHeartbeat(c *WsSignalConn, data []byte) error {
	var p heartbeatPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	ctl.Orch.Heartbeat(c.id, p.UserID, p.RoomID)
	return nil
}
