package roomstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	_defaultMaxConns     = 10
	_defaultConnAttempts = 5
	_defaultConnTimeout  = time.Second
)

// Postgres reads rooms from the application's rooms table.
type Postgres struct {
	Builder squirrel.StatementBuilderType
	Pool    *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("roomstore - NewPostgres - pgxpool.ParseConfig: %w", err)
	}
	poolConfig.MaxConns = _defaultMaxConns

	p := &Postgres{Builder: newBuilder()}
	for attempts := _defaultConnAttempts; attempts > 0; attempts-- {
		p.Pool, err = pgxpool.ConnectConfig(ctx, poolConfig)
		if err == nil {
			break
		}
		log.Warn().Str("module", "roomstore").Int("attempts_left", attempts-1).Err(err).Msg("postgres connect")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(_defaultConnTimeout):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("roomstore - NewPostgres - connAttempts == 0: %w", err)
	}
	return p, nil
}

func newBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func roomQuery(b squirrel.StatementBuilderType, id domain.RoomID) (string, []any, error) {
	return b.Select("code", "current_view").
		From("rooms").
		Where(squirrel.Eq{"code": string(id)}).
		ToSql()
}

func (p *Postgres) LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	sql, args, err := roomQuery(p.Builder, id)
	if err != nil {
		return nil, fmt.Errorf("roomstore - LookupRoom - ToSql: %w", err)
	}
	var (
		code string
		view *string
	)
	err = p.Pool.QueryRow(ctx, sql, args...).Scan(&code, &view)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomstore - LookupRoom - QueryRow: %w", err)
	}
	room := &domain.Room{ID: domain.RoomID(code)}
	if view != nil {
		room.CurrentView = *view
	}
	return room, nil
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	return nil
}
