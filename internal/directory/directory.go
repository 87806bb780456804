// Package directory resolves companies and groups for ledger
// aggregation. Lookups go through Redis with a short TTL so each
// request sees a reasonably fresh view without hammering the database;
// when Redis is absent the database is hit directly.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/treasurydesk/backend/internal/ledger"
	"github.com/treasurydesk/backend/internal/models"
)

type Directory struct {
	db    *sql.DB
	redis *redis.Client
	ttl   time.Duration
}

// New builds a directory. redisClient may be nil; caching is then
// skipped.
func New(db *sql.DB, redisClient *redis.Client, ttl time.Duration) *Directory {
	return &Directory{db: db, redis: redisClient, ttl: ttl}
}

func (d *Directory) Company(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	key := "directory:company:" + id.String()
	if cached, ok := d.fromCache(ctx, key); ok {
		var c models.Company
		if err := json.Unmarshal(cached, &c); err == nil {
			return &c, nil
		}
	}

	var c models.Company
	var groupID uuid.NullUUID
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, group_id FROM companies WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errf(ledger.KindNotFound, "company %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		c.GroupID = &groupID.UUID
	}

	d.toCache(ctx, key, &c)
	return &c, nil
}

func (d *Directory) Group(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	key := "directory:group:" + id.String()
	if cached, ok := d.fromCache(ctx, key); ok {
		var g models.Group
		if err := json.Unmarshal(cached, &g); err == nil {
			return &g, nil
		}
	}

	var g models.Group
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.Errf(ledger.KindNotFound, "group %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	d.toCache(ctx, key, &g)
	return &g, nil
}

func (d *Directory) fromCache(ctx context.Context, key string) ([]byte, bool) {
	if d.redis == nil {
		return nil, false
	}
	data, err := d.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (d *Directory) toCache(ctx context.Context, key string, v any) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.redis.Set(ctx, key, data, d.ttl)
}

var _ ledger.Directory = (*Directory)(nil)

// Static is a fixed in-memory directory, used in tests and as a
// fallback when no company database is wired.
type Static struct {
	Companies map[uuid.UUID]*models.Company
	Groups    map[uuid.UUID]*models.Group
}

// NewStatic builds an empty static directory.
func NewStatic() *Static {
	return &Static{
		Companies: make(map[uuid.UUID]*models.Company),
		Groups:    make(map[uuid.UUID]*models.Group),
	}
}

// AddGroup registers a group and returns its id.
func (s *Static) AddGroup(name string) uuid.UUID {
	id := uuid.New()
	s.Groups[id] = &models.Group{ID: id, Name: name}
	return id
}

// AddCompany registers a company, optionally inside a group.
func (s *Static) AddCompany(name string, groupID *uuid.UUID) uuid.UUID {
	id := uuid.New()
	s.Companies[id] = &models.Company{ID: id, Name: name, GroupID: groupID}
	return id
}

func (s *Static) Company(_ context.Context, id uuid.UUID) (*models.Company, error) {
	c, ok := s.Companies[id]
	if !ok {
		return nil, ledger.Errf(ledger.KindNotFound, "company %s not found", id)
	}
	return c, nil
}

func (s *Static) Group(_ context.Context, id uuid.UUID) (*models.Group, error) {
	g, ok := s.Groups[id]
	if !ok {
		return nil, ledger.Errf(ledger.KindNotFound, "group %s not found", id)
	}
	return g, nil
}

var _ ledger.Directory = (*Static)(nil)
