package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

type connectionRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	Type        string         `db:"connection_type"`
	Host        string         `db:"host"`
	Port        int            `db:"port"`
	Username    sql.NullString `db:"username"`
	Password    sql.NullString `db:"password"`
	Database    sql.NullString `db:"database_name"`
	Config      sql.NullString `db:"config"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

const connectionColumns = `id, name, description, connection_type, host, port, username, password, database_name, config, created_at, updated_at`

func (r *connectionRow) toModel() (*model.Connection, error) {
	cfg, err := model.UnmarshalConfig(r.Config.String)
	if err != nil {
		return nil, fmt.Errorf("decoding config of connection %s: %w", r.ID, err)
	}
	return &model.Connection{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description.String,
		Type:        model.ConnType(r.Type),
		Host:        r.Host,
		Port:        r.Port,
		Username:    r.Username.String,
		Password:    r.Password.String,
		Database:    r.Database.String,
		Config:      cfg,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}, nil
}

// ListConnections returns every connection ordered by creation time.
func (s *Store) ListConnections(ctx context.Context) ([]*model.Connection, error) {
	var rows []connectionRow
	err := s.read(ctx, "store.list_connections", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		return tx.SelectContext(ctx, &rows, `SELECT `+connectionColumns+` FROM connections ORDER BY created_at`)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Connection, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetConnection loads one connection. Absent ids yield etlerr.ErrNotFound;
// exhausted retries yield etlerr.ErrTransient.
func (s *Store) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var row connectionRow
	err := s.read(ctx, "store.get_connection", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+connectionColumns+` FROM connections WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, etlerr.NotFound("store.get_connection", "connection", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// InsertConnection persists a new connection. ID and timestamps must be set.
func (s *Store) InsertConnection(ctx context.Context, c *model.Connection) error {
	cfg, err := c.Config.Marshal()
	if err != nil {
		return fmt.Errorf("encoding connection config: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO connections (`+connectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullString(c.Description), string(c.Type), c.Host, c.Port,
		nullString(c.Username), nullString(c.Password), nullString(c.Database), cfg,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting connection %s: %w", c.Name, err)
	}
	return nil
}

// DeleteConnection removes a connection and reports whether it existed.
func (s *Store) DeleteConnection(ctx context.Context, id string) (bool, error) {
	found, err := s.exec(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting connection %s: %w", id, err)
	}
	return found, nil
}
