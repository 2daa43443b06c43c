package repo

import (
	"context"
	"database/sql"
	"fmt"
)

type ConnectionRepo struct {
	db *sql.DB
}

const connectionColumns = "id, user_id, path_id, token, encrypted, fixed, connect_address, connect_port, listen_address, listen_port, address_override, port_override"

func scanConnection(row rowScanner) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.UserID, &c.PathID, &c.Token, &c.Encrypted, &c.Fixed,
		&c.ConnectAddress, &c.ConnectPort, &c.ListenAddress, &c.ListenPort,
		&c.AddressOverride, &c.PortOverride)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConnectionRepo) Find(ctx context.Context, id int64) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE id = ?", id)
	c, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.Find(%d): %w", id, err)
	}
	return c, nil
}

func (r *ConnectionRepo) FindByToken(ctx context.Context, token string) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE token = ?", token)
	c, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.FindByToken: %w", err)
	}
	return c, nil
}

// FindByPath returns the connection bound to a path, or nil. A path has at
// most one connection.
func (r *ConnectionRepo) FindByPath(ctx context.Context, pathID int64) (*Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM connections WHERE path_id = ?", pathID)
	c, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.FindByPath(%d): %w", pathID, err)
	}
	return c, nil
}

// FindByPathSubtree collects the connections of a path and all its
// descendants, in the deterministic depth-first order of the path walk.
// Paths form a tree by construction, so the walk cannot cycle.
func (r *ConnectionRepo) FindByPathSubtree(ctx context.Context, rootPathID int64) ([]*Connection, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.FindByPathSubtree(%d): %w", rootPathID, err)
	}
	defer tx.Rollback()

	paths, err := subtreeTx(ctx, tx, rootPathID)
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.FindByPathSubtree(%d): %w", rootPathID, err)
	}

	var found []*Connection
	for _, p := range paths {
		c, err := scanConnection(tx.QueryRowContext(ctx,
			"SELECT "+connectionColumns+" FROM connections WHERE path_id = ?", p.ID))
		if err != nil {
			return nil, fmt.Errorf("ConnectionRepo.FindByPathSubtree(%d): path %d: %w", rootPathID, p.ID, err)
		}
		if c != nil {
			found = append(found, c)
		}
	}
	return found, nil
}

// Create inserts a connection for a path.
func (r *ConnectionRepo) Create(ctx context.Context, c *Connection) (*Connection, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO connections(user_id, path_id, token, encrypted, fixed,
		                         connect_address, connect_port, listen_address, listen_port,
		                         address_override, port_override)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.PathID, c.Token, c.Encrypted, c.Fixed,
		c.ConnectAddress, c.ConnectPort, c.ListenAddress, c.ListenPort,
		c.AddressOverride, c.PortOverride)
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.Create(path %d): %w", c.PathID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ConnectionRepo.Create(path %d): %w", c.PathID, err)
	}
	out := *c
	out.ID = id
	return &out, nil
}
