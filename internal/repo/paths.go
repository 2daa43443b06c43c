package repo

import (
	"context"
	"database/sql"
	"fmt"
)

type PathRepo struct {
	db *sql.DB
}

const pathColumns = "id, parent_id, user_id, name, path, token"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPath(row rowScanner) (*Path, error) {
	var p Path
	err := row.Scan(&p.ID, &p.ParentID, &p.UserID, &p.Name, &p.Path, &p.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PathRepo) Find(ctx context.Context, id int64) (*Path, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+pathColumns+" FROM paths WHERE id = ?", id)
	p, err := scanPath(row)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.Find(%d): %w", id, err)
	}
	return p, nil
}

func (r *PathRepo) FindByToken(ctx context.Context, token string) (*Path, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+pathColumns+" FROM paths WHERE token = ?", token)
	p, err := scanPath(row)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.FindByToken: %w", err)
	}
	return p, nil
}

// FindByUserAndPath resolves a full path name inside one user's namespace.
func (r *PathRepo) FindByUserAndPath(ctx context.Context, userID int64, path string) (*Path, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+pathColumns+" FROM paths WHERE user_id = ? AND path = ?", userID, path)
	p, err := scanPath(row)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.FindByUserAndPath(%d, %s): %w", userID, path, err)
	}
	return p, nil
}

// FindByParent returns the direct children of a path in lexicographic order.
func (r *PathRepo) FindByParent(ctx context.Context, parentID int64) ([]*Path, error) {
	paths, err := findChildren(ctx, r.db, parentID)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.FindByParent(%d): %w", parentID, err)
	}
	return paths, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findChildren(ctx context.Context, q querier, parentID int64) ([]*Path, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+pathColumns+" FROM paths WHERE parent_id = ? ORDER BY name", parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []*Path
	for rows.Next() {
		p, err := scanPath(rows)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// FindSubtree returns the path and all its descendants. The traversal is an
// explicit depth-first walk over the parent index; children are visited in
// lexicographic order, so the result is deterministic and stack depth stays
// bounded.
func (r *PathRepo) FindSubtree(ctx context.Context, rootID int64) ([]*Path, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("PathRepo.FindSubtree(%d): %w", rootID, err)
	}
	defer tx.Rollback()

	paths, err := subtreeTx(ctx, tx, rootID)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.FindSubtree(%d): %w", rootID, err)
	}
	return paths, nil
}

func subtreeTx(ctx context.Context, tx *sql.Tx, rootID int64) ([]*Path, error) {
	root, err := scanPath(tx.QueryRowContext(ctx,
		"SELECT "+pathColumns+" FROM paths WHERE id = ?", rootID))
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	var result []*Path
	stack := []*Path{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result = append(result, node)

		children, err := findChildren(ctx, tx, node.ID)
		if err != nil {
			return nil, err
		}
		// push in reverse so the walk pops them lexicographically
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return result, nil
}

// DeleteRecursive removes the path, every descendant path and every
// connection owned by any of them, in one transaction.
func (r *PathRepo) DeleteRecursive(ctx context.Context, rootID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("PathRepo.DeleteRecursive(%d): %w", rootID, err)
	}
	defer tx.Rollback()

	paths, err := subtreeTx(ctx, tx, rootID)
	if err != nil {
		return fmt.Errorf("PathRepo.DeleteRecursive(%d): %w", rootID, err)
	}

	// delete leaves first so parent references never dangle
	for i := len(paths) - 1; i >= 0; i-- {
		id := paths[i].ID
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM daemon_connections
			  WHERE connection_id IN (SELECT id FROM connections WHERE path_id = ?)`, id); err != nil {
			return fmt.Errorf("PathRepo.DeleteRecursive(%d): associations of path %d: %w", rootID, id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM connections WHERE path_id = ?", id); err != nil {
			return fmt.Errorf("PathRepo.DeleteRecursive(%d): connections of path %d: %w", rootID, id, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM paths WHERE id = ?", id); err != nil {
			return fmt.Errorf("PathRepo.DeleteRecursive(%d): path %d: %w", rootID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("PathRepo.DeleteRecursive(%d): commit: %w", rootID, err)
	}
	return nil
}

// Create inserts a path node. parentID of 0 means a root path.
func (r *PathRepo) Create(ctx context.Context, parentID, userID int64, name, fullPath, token string) (*Path, error) {
	var parent sql.NullInt64
	if parentID != 0 {
		parent = sql.NullInt64{Int64: parentID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO paths(parent_id, user_id, name, path, token) VALUES (?, ?, ?, ?, ?)",
		parent, userID, name, fullPath, token)
	if err != nil {
		return nil, fmt.Errorf("PathRepo.Create(%s): %w", fullPath, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("PathRepo.Create(%s): %w", fullPath, err)
	}
	return &Path{ID: id, ParentID: parent, UserID: userID, Name: name, Path: fullPath, Token: token}, nil
}
