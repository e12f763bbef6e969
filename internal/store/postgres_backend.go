package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wispim/server/internal/config"
	"go.uber.org/zap"
)

// pgBackend persists users and groups in PostgreSQL through a pgx pool.
// Contact and member lists map onto text[] columns, so a row round-trips a
// whole record and LoadAll stays two plain SELECTs.
type pgBackend struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresBackend connects, verifies the connection and applies pending
// migrations before handing the backend over.
func NewPostgresBackend(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (Backend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &pgBackend{pool: pool, log: log}, nil
}

func (b *pgBackend) LoadAll(ctx context.Context) (map[string]*User, map[string]*Group, error) {
	users := make(map[string]*User)
	rows, err := b.pool.Query(ctx,
		`SELECT username, password_hash, display_name, email, avatar, picture_id,
		        contacts, groups, created_at
		 FROM users`)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(
			&u.Username, &u.PasswordHash, &u.DisplayName, &u.Email, &u.AvatarToken,
			&u.PictureID, &u.Contacts, &u.Groups, &u.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan user: %w", err)
		}
		users[u.Username] = u
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}

	groups := make(map[string]*Group)
	rows, err = b.pool.Query(ctx,
		`SELECT id, name, description, owner, members, created_at FROM groups`)
	if err != nil {
		return nil, nil, fmt.Errorf("load groups: %w", err)
	}
	for rows.Next() {
		g := &Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.Owner, &g.Members, &g.CreatedAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups[g.ID] = g
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load groups: %w", err)
	}

	return users, groups, nil
}

func (b *pgBackend) SaveUser(ctx context.Context, u *User) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, display_name, email, avatar,
		                    picture_id, contacts, groups, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (username) DO UPDATE SET
		     password_hash = EXCLUDED.password_hash,
		     display_name  = EXCLUDED.display_name,
		     email         = EXCLUDED.email,
		     avatar        = EXCLUDED.avatar,
		     picture_id    = EXCLUDED.picture_id,
		     contacts      = EXCLUDED.contacts,
		     groups        = EXCLUDED.groups`,
		u.Username, u.PasswordHash, u.DisplayName, u.Email, u.AvatarToken,
		u.PictureID, u.Contacts, u.Groups, u.CreatedAt,
	)
	return err
}

func (b *pgBackend) SaveGroup(ctx context.Context, g *Group) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO groups (id, name, description, owner, members, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     name        = EXCLUDED.name,
		     description = EXCLUDED.description,
		     owner       = EXCLUDED.owner,
		     members     = EXCLUDED.members`,
		g.ID, g.Name, g.Description, g.Owner, g.Members, g.CreatedAt,
	)
	return err
}

func (b *pgBackend) DeleteGroup(ctx context.Context, id string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

func (b *pgBackend) Close() {
	b.pool.Close()
}
