package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
)

type DaemonRepo struct {
	db *sql.DB
}

const daemonColumns = "id, user_id, name, token"

func scanDaemon(row rowScanner) (*Daemon, error) {
	var d Daemon
	err := row.Scan(&d.ID, &d.UserID, &d.Name, &d.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DaemonRepo) Find(ctx context.Context, id int64) (*Daemon, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+daemonColumns+" FROM daemons WHERE id = ?", id)
	d, err := scanDaemon(row)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.Find(%d): %w", id, err)
	}
	return d, nil
}

func (r *DaemonRepo) FindByToken(ctx context.Context, token string) (*Daemon, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+daemonColumns+" FROM daemons WHERE token = ?", token)
	d, err := scanDaemon(row)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.FindByToken: %w", err)
	}
	return d, nil
}

func (r *DaemonRepo) FindByUserAndName(ctx context.Context, userID int64, name string) (*Daemon, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+daemonColumns+" FROM daemons WHERE user_id = ? AND name = ?", userID, name)
	d, err := scanDaemon(row)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.FindByUserAndName(%d, %s): %w", userID, name, err)
	}
	return d, nil
}

// FindByConnection returns every daemon associated with the connection,
// joined with its role and overrides, in stable order.
func (r *DaemonRepo) FindByConnection(ctx context.Context, connectionID int64) ([]*Association, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.id, d.user_id, d.name, d.token, dc.acting_as, dc.address_override, dc.port_override
		   FROM daemon_connections dc
		   JOIN daemons d ON d.id = dc.daemon_id
		  WHERE dc.connection_id = ?
		  ORDER BY d.id`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.FindByConnection(%d): %w", connectionID, err)
	}
	defer rows.Close()

	var found []*Association
	for rows.Next() {
		var a Association
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Token,
			&a.ActingAs, &a.AddressOverride, &a.PortOverride); err != nil {
			return nil, fmt.Errorf("DaemonRepo.FindByConnection(%d): %w", connectionID, err)
		}
		found = append(found, &a)
	}
	return found, rows.Err()
}

// FindServerByConnection returns the daemon currently serving the
// connection, or nil when nobody does.
func (r *DaemonRepo) FindServerByConnection(ctx context.Context, connectionID int64) (*Daemon, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT d.id, d.user_id, d.name, d.token
		   FROM daemon_connections dc
		   JOIN daemons d ON d.id = dc.daemon_id
		  WHERE dc.connection_id = ? AND dc.acting_as = ?`, connectionID, ActingServer)
	d, err := scanDaemon(row)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.FindServerByConnection(%d): %w", connectionID, err)
	}
	return d, nil
}

// Connect associates the daemon with the connection under the given role and
// returns the number of rows inserted. The call is idempotent: an existing
// pairing, or an attempt to add a second server to an already-served
// connection, inserts nothing and returns 0. The check-then-insert sequence
// runs in one transaction so concurrent callers cannot both win.
func (r *DaemonRepo) Connect(ctx context.Context, daemonID, connectionID int64, actingAs, addressOverride, portOverride string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("DaemonRepo.Connect(%d, %d): %w", daemonID, connectionID, err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM daemon_connections WHERE daemon_id = ? AND connection_id = ?",
		daemonID, connectionID).Scan(&existing)
	if err != nil {
		return 0, fmt.Errorf("DaemonRepo.Connect(%d, %d): %w", daemonID, connectionID, err)
	}
	if existing > 0 {
		return 0, nil
	}

	if actingAs == ActingServer {
		var servers int64
		err = tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM daemon_connections WHERE connection_id = ? AND acting_as = ?",
			connectionID, ActingServer).Scan(&servers)
		if err != nil {
			return 0, fmt.Errorf("DaemonRepo.Connect(%d, %d): %w", daemonID, connectionID, err)
		}
		if servers > 0 {
			// already served; treated as "already attached", not an error
			return 0, nil
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO daemon_connections(daemon_id, connection_id, acting_as, address_override, port_override)
		 VALUES (?, ?, ?, ?, ?)`,
		daemonID, connectionID, actingAs, addressOverride, portOverride); err != nil {
		return 0, fmt.Errorf("DaemonRepo.Connect(%d, %d): %w", daemonID, connectionID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("DaemonRepo.Connect(%d, %d): commit: %w", daemonID, connectionID, err)
	}
	return 1, nil
}

// Disconnect removes the daemon-connection association and returns the number
// of rows removed (0 when none existed).
func (r *DaemonRepo) Disconnect(ctx context.Context, daemonID, connectionID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM daemon_connections WHERE daemon_id = ? AND connection_id = ?",
		daemonID, connectionID)
	if err != nil {
		return 0, fmt.Errorf("DaemonRepo.Disconnect(%d, %d): %w", daemonID, connectionID, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DaemonRepo.Disconnect(%d, %d): %w", daemonID, connectionID, err)
	}
	return count, nil
}

// Create inserts a daemon for a user.
func (r *DaemonRepo) Create(ctx context.Context, userID int64, name, token string) (*Daemon, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO daemons(user_id, name, token) VALUES (?, ?, ?)", userID, name, token)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.Create(%s): %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.Create(%s): %w", name, err)
	}
	return &Daemon{ID: id, UserID: userID, Name: name, Token: token}, nil
}

// ConnectionsList materializes the daemon's view of every connection it
// participates in: server entries with resolved connect address and peer
// client names, client entries with resolved listen address and the serving
// daemon's name.
func (r *DaemonRepo) ConnectionsList(ctx context.Context, daemonID int64) (*protocol.ConnectionsList, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT dc.acting_as, dc.address_override, dc.port_override,
		        c.id, c.encrypted, c.fixed,
		        c.connect_address, c.connect_port, c.listen_address, c.listen_port,
		        p.path, u.email
		   FROM daemon_connections dc
		   JOIN connections c ON c.id = dc.connection_id
		   JOIN paths p ON p.id = c.path_id
		   JOIN users u ON u.id = c.user_id
		  WHERE dc.daemon_id = ?
		  ORDER BY u.email, p.path`, daemonID)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
	}
	defer rows.Close()

	type entry struct {
		actingAs                      string
		addressOverride, portOverride string
		connectionID                  int64
		encrypted, fixed              bool
		connectAddress, connectPort   string
		listenAddress, listenPort     string
		name                          string
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var path, email string
		if err := rows.Scan(&e.actingAs, &e.addressOverride, &e.portOverride,
			&e.connectionID, &e.encrypted, &e.fixed,
			&e.connectAddress, &e.connectPort, &e.listenAddress, &e.listenPort,
			&path, &email); err != nil {
			return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
		}
		e.name = email + path
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
	}

	list := &protocol.ConnectionsList{
		ServerConnections: []protocol.ServerConnection{},
		ClientConnections: []protocol.ClientConnection{},
	}
	for _, e := range entries {
		if e.actingAs == ActingServer {
			clients, err := peerNames(ctx, tx, e.connectionID, ActingClient)
			if err != nil {
				return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
			}
			address, port := registry.AddressOverride(e.connectAddress, e.connectPort, e.addressOverride, e.portOverride)
			list.ServerConnections = append(list.ServerConnections, protocol.ServerConnection{
				Name:           e.name,
				ConnectAddress: address,
				ConnectPort:    port,
				Encrypted:      e.encrypted,
				Fixed:          e.fixed,
				Clients:        clients,
			})
			continue
		}

		servers, err := peerNames(ctx, tx, e.connectionID, ActingServer)
		if err != nil {
			return nil, fmt.Errorf("DaemonRepo.ConnectionsList(%d): %w", daemonID, err)
		}
		var server string
		if len(servers) > 0 {
			server = servers[0]
		}
		address, port := registry.AddressOverride(e.listenAddress, e.listenPort, e.addressOverride, e.portOverride)
		list.ClientConnections = append(list.ClientConnections, protocol.ClientConnection{
			Name:          e.name,
			ListenAddress: address,
			ListenPort:    port,
			Encrypted:     e.encrypted,
			Fixed:         e.fixed,
			Server:        server,
		})
	}
	return list, nil
}

// PeerNames returns the "email?daemonName" references of every daemon with
// the given role on the connection, in stable order.
func (r *DaemonRepo) PeerNames(ctx context.Context, connectionID int64, actingAs string) ([]string, error) {
	names, err := peerNames(ctx, r.db, connectionID, actingAs)
	if err != nil {
		return nil, fmt.Errorf("DaemonRepo.PeerNames(%d, %s): %w", connectionID, actingAs, err)
	}
	return names, nil
}

func peerNames(ctx context.Context, q querier, connectionID int64, actingAs string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT u.email, d.name
		   FROM daemon_connections dc
		   JOIN daemons d ON d.id = dc.daemon_id
		   JOIN users u ON u.id = d.user_id
		  WHERE dc.connection_id = ? AND dc.acting_as = ?
		  ORDER BY u.email, d.name`, connectionID, actingAs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var email, name string
		if err := rows.Scan(&email, &name); err != nil {
			return nil, err
		}
		names = append(names, email+"?"+name)
	}
	return names, rows.Err()
}
