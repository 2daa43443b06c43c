package repo

import (
	"context"
	"database/sql"
	"fmt"
)

type UserRepo struct {
	db *sql.DB
}

const userColumns = "id, name, email, token"

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Find returns the user with the given id, or nil when absent.
func (r *UserRepo) Find(ctx context.Context, id int64) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("UserRepo.Find(%d): %w", id, err)
	}
	return u, nil
}

// FindByToken returns the user owning the given auth token, or nil.
func (r *UserRepo) FindByToken(ctx context.Context, token string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE token = ?", token)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("UserRepo.FindByToken: %w", err)
	}
	return u, nil
}

// Create inserts a user and returns it with the assigned id.
func (r *UserRepo) Create(ctx context.Context, name, email, token string) (*User, error) {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users(name, email, token) VALUES (?, ?, ?)",
		name, email, token)
	if err != nil {
		return nil, fmt.Errorf("UserRepo.Create(%s): %w", email, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("UserRepo.Create(%s): %w", email, err)
	}
	return &User{ID: id, Name: name, Email: email, Token: token}, nil
}
