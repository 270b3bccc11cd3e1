package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/friendsbet/bet-engine/internal/model"
)

// schema is applied by EnsureSchema. Options and stakes live in JSONB
// columns so a bet stays one record, written atomically.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	avatar           TEXT NOT NULL DEFAULT '',
	balance          BIGINT NOT NULL CHECK (balance >= 0),
	last_reward_date TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	revision         BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_name_lower_idx ON users (lower(name));

CREATE TABLE IF NOT EXISTS bets (
	id          TEXT PRIMARY KEY,
	author_id   TEXT NOT NULL REFERENCES users (id),
	title       TEXT NOT NULL,
	image_url   TEXT NOT NULL DEFAULT '',
	options     JSONB NOT NULL,
	status      TEXT NOT NULL,
	total_pool  BIGINT NOT NULL CHECK (total_pool >= 0),
	result      INTEGER,
	stakes      JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ,
	revision    BIGINT NOT NULL,
	CHECK ((status = 'resolved') = (result IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS globals (
	id          SMALLINT PRIMARY KEY CHECK (id = 1),
	period_key  TEXT NOT NULL,
	prize       TEXT NOT NULL,
	last_winner JSONB,
	revision    BIGINT NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Conditional writes compare the revision column in the WHERE clause.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, name, avatar, balance, last_reward_date, created_at, revision`

func (s *PostgresStore) LoadUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

func (s *PostgresStore) SaveUser(ctx context.Context, u *model.User) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if u.Revision == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, 1)
			 ON CONFLICT (id) DO NOTHING`,
			u.ID, u.Name, u.Avatar, u.Balance, u.LastRewardDate, u.CreatedAt)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE users
			 SET name = $2, avatar = $3, balance = $4, last_reward_date = $5,
			     revision = revision + 1
			 WHERE id = $1 AND revision = $6`,
			u.ID, u.Name, u.Avatar, u.Balance, u.LastRewardDate, u.Revision)
	}
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s at revision %d: %w", u.ID, u.Revision, ErrConflict)
	}
	u.Revision++
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string, revision int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE id = $1 AND revision = $2`, id, revision)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s at revision %d: %w", id, revision, ErrConflict)
	}
	return nil
}

const betColumns = `id, author_id, title, image_url, options, status, total_pool,
	result, stakes, created_at, resolved_at, revision`

func (s *PostgresStore) LoadBets(ctx context.Context) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bet %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresStore) SaveBet(ctx context.Context, b *model.Bet) error {
	stakes := b.Stakes
	if stakes == nil {
		stakes = []model.Stake{}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if b.Revision == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO bets (`+betColumns+`)
			 VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8, $9::JSONB, $10, $11, 1)
			 ON CONFLICT (id) DO NOTHING`,
			b.ID, b.AuthorID, b.Title, b.ImageURL, b.Options, b.Status, b.TotalPool,
			b.Result, stakes, b.CreatedAt, b.ResolvedAt)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE bets
			 SET title = $2, image_url = $3, options = $4::JSONB, status = $5,
			     total_pool = $6, result = $7, stakes = $8::JSONB, resolved_at = $9,
			     revision = revision + 1
			 WHERE id = $1 AND revision = $10`,
			b.ID, b.Title, b.ImageURL, b.Options, b.Status,
			b.TotalPool, b.Result, stakes, b.ResolvedAt, b.Revision)
	}
	if err != nil {
		return fmt.Errorf("save bet %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bet %s at revision %d: %w", b.ID, b.Revision, ErrConflict)
	}
	b.Revision++
	return nil
}

func (s *PostgresStore) DeleteBet(ctx context.Context, id string, revision int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bets WHERE id = $1 AND revision = $2`, id, revision)
	if err != nil {
		return fmt.Errorf("delete bet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bet %s at revision %d: %w", id, revision, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) LoadGlobals(ctx context.Context) (model.Globals, error) {
	var g model.Globals
	err := s.pool.QueryRow(ctx,
		`SELECT period_key, prize, last_winner, revision FROM globals WHERE id = 1`).
		Scan(&g.PeriodKey, &g.Prize, &g.LastWinner, &g.Revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Globals{}, nil
	}
	if err != nil {
		return model.Globals{}, fmt.Errorf("load globals: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) SaveGlobals(ctx context.Context, g *model.Globals) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if g.Revision == 0 {
		tag, err = s.pool.Exec(ctx,
			`INSERT INTO globals (id, period_key, prize, last_winner, revision)
			 VALUES (1, $1, $2, $3::JSONB, 1)
			 ON CONFLICT (id) DO NOTHING`,
			g.PeriodKey, g.Prize, g.LastWinner)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE globals
			 SET period_key = $1, prize = $2, last_winner = $3::JSONB,
			     revision = revision + 1
			 WHERE id = 1 AND revision = $4`,
			g.PeriodKey, g.Prize, g.LastWinner, g.Revision)
	}
	if err != nil {
		return fmt.Errorf("save globals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("globals at revision %d: %w", g.Revision, ErrConflict)
	}
	g.Revision++
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Avatar, &u.Balance,
		&u.LastRewardDate, &u.CreatedAt, &u.Revision)
	return u, err
}

func scanBet(row rowScanner) (model.Bet, error) {
	var b model.Bet
	err := row.Scan(&b.ID, &b.AuthorID, &b.Title, &b.ImageURL, &b.Options,
		&b.Status, &b.TotalPool, &b.Result, &b.Stakes,
		&b.CreatedAt, &b.ResolvedAt, &b.Revision)
	return b, err
}
