package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"assetdesk.org/internal/ids"
	"assetdesk.org/internal/inventory"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements inventory.Store on PostgreSQL.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ inventory.Store = (*Store)(nil)

// Open connects to dsn through the pgx driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.PingContext(ctx))
}

// WithinTx runs fn in a read-committed transaction. Finds made through tx
// take row locks.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx inventory.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return mapErr(tx.Commit())
}

func (s *Store) lock() string {
	if s.inTx {
		return " for update"
	}
	return ""
}

// mapErr translates driver errors into inventory sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", inventory.ErrAlreadyExists, pgErr.ConstraintName)
		case pgErr.Code == "23514":
			return fmt.Errorf("%w: %s", inventory.ErrInvalidInput, pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "57P03", pgErr.Code == "53300":
			return fmt.Errorf("%w: %v", inventory.ErrUnavailable, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &connErr) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", inventory.ErrUnavailable, err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// args accumulates positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " where " + strings.Join(conds, " and ")
}

// likePattern builds an ILIKE substring pattern with wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// ---- users ----

const userCols = `id, email, name, role, joined_team, company_id, company_name, company_logo, team_limit, paid, created_at`

func scanUser(row scanner) (inventory.User, error) {
	var u inventory.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.JoinedTeam, &u.CompanyID, &u.CompanyName,
		&u.CompanyLogo, &u.TeamLimit, &u.Paid, &u.CreatedAt)
	return u, mapErr(err)
}

func (s *Store) CreateUser(ctx context.Context, u *inventory.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into users (`+userCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, u.ID, u.Email, u.Name, u.Role, u.JoinedTeam, u.CompanyID, u.CompanyName, u.CompanyLogo,
		u.TeamLimit, u.Paid, u.CreatedAt)
	return mapErr(err)
}

func (s *Store) FindUser(ctx context.Context, id string) (inventory.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`+s.lock(), id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (inventory.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userCols+` from users where email=$1`+s.lock(), email))
}

func userConds(f inventory.UserFilter, a *args) []string {
	var conds []string
	if f.Role != "" {
		conds = append(conds, "role="+a.add(f.Role))
	}
	if f.CompanyID != "" {
		conds = append(conds, "company_id="+a.add(f.CompanyID))
	}
	if f.Unaffiliated {
		conds = append(conds, "company_id=''")
	}
	if len(f.IDs) > 0 {
		ph := make([]string, 0, len(f.IDs))
		for _, id := range f.IDs {
			ph = append(ph, a.add(id))
		}
		conds = append(conds, "id in ("+strings.Join(ph, ",")+")")
	}
	return conds
}

func (s *Store) ListUsers(ctx context.Context, f inventory.UserFilter) ([]inventory.User, error) {
	var a args
	query := `select ` + userCols + ` from users` + where(userConds(f, &a)) + ` order by created_at asc, id asc`
	rows, err := s.q.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]inventory.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) CountUsers(ctx context.Context, f inventory.UserFilter) (int, error) {
	var a args
	var n int
	err := s.q.QueryRowContext(ctx, `select count(*) from users`+where(userConds(f, &a)), a...).Scan(&n)
	return n, mapErr(err)
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd inventory.UserUpdate) (inventory.User, error) {
	var a args
	var sets []string
	set := func(col string, v any) { sets = append(sets, col+"="+a.add(v)) }
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.JoinedTeam != nil {
		set("joined_team", *upd.JoinedTeam)
	}
	if upd.CompanyID != nil {
		set("company_id", *upd.CompanyID)
	}
	if upd.CompanyName != nil {
		set("company_name", *upd.CompanyName)
	}
	if upd.CompanyLogo != nil {
		set("company_logo", *upd.CompanyLogo)
	}
	if upd.TeamLimit != nil {
		set("team_limit", *upd.TeamLimit)
	}
	if upd.Paid != nil {
		set("paid", *upd.Paid)
	}
	if len(sets) == 0 {
		return s.FindUser(ctx, id)
	}
	query := `update users set ` + strings.Join(sets, ", ") + ` where id=` + a.add(id) + ` returning ` + userCols
	return scanUser(s.q.QueryRowContext(ctx, query, a...))
}

// ---- assets ----

const assetCols = `id, name, type, quantity, assigned_quantity, availability, added_by, created_at`

func scanAsset(row scanner) (inventory.Asset, error) {
	var x inventory.Asset
	err := row.Scan(&x.ID, &x.Name, &x.Type, &x.Quantity, &x.AssignedQuantity, &x.Availability, &x.AddedBy, &x.CreatedAt)
	return x, mapErr(err)
}

func (s *Store) CreateAsset(ctx context.Context, x *inventory.Asset) error {
	if x.ID == "" {
		x.ID = ids.New()
	}
	if x.CreatedAt.IsZero() {
		x.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into assets (`+assetCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, x.ID, x.Name, x.Type, x.Quantity, x.AssignedQuantity, x.Availability, x.AddedBy, x.CreatedAt)
	return mapErr(err)
}

func (s *Store) FindAsset(ctx context.Context, id string) (inventory.Asset, error) {
	return scanAsset(s.q.QueryRowContext(ctx, `select `+assetCols+` from assets where id=$1`+s.lock(), id))
}

func (s *Store) ListAssets(ctx context.Context, q inventory.AssetQuery) ([]inventory.Asset, error) {
	var a args
	var conds []string
	if q.Search != "" {
		conds = append(conds, "name ilike "+a.add(likePattern(q.Search)))
	}
	if q.Availability != "" {
		conds = append(conds, "availability="+a.add(q.Availability))
	}
	if q.Type != "" {
		conds = append(conds, "type="+a.add(q.Type))
	}
	if q.Below != nil {
		conds = append(conds, "quantity < "+a.add(*q.Below))
	}
	order := ` order by id asc`
	switch q.Sort {
	case inventory.SortAsc:
		order = ` order by quantity asc, id asc`
	case inventory.SortDesc:
		order = ` order by quantity desc, id asc`
	}
	rows, err := s.q.QueryContext(ctx, `select `+assetCols+` from assets`+where(conds)+order, a...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]inventory.Asset, 0)
	for rows.Next() {
		x, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) UpdateAsset(ctx context.Context, id string, upd inventory.AssetUpdate) (inventory.Asset, error) {
	var a args
	var sets []string
	set := func(col string, v any) { sets = append(sets, col+"="+a.add(v)) }
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Type != nil {
		set("type", *upd.Type)
	}
	if upd.Quantity != nil {
		set("quantity", *upd.Quantity)
	}
	if upd.AssignedQuantity != nil {
		set("assigned_quantity", *upd.AssignedQuantity)
	}
	if upd.Availability != nil {
		set("availability", *upd.Availability)
	}
	if len(sets) == 0 {
		return s.FindAsset(ctx, id)
	}
	query := `update assets set ` + strings.Join(sets, ", ") + ` where id=` + a.add(id) + ` returning ` + assetCols
	return scanAsset(s.q.QueryRowContext(ctx, query, a...))
}

func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from assets where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (s *Store) AssetTotals(ctx context.Context) (inventory.AssetTotals, error) {
	var t inventory.AssetTotals
	err := s.q.QueryRowContext(ctx, `select count(*), coalesce(sum(quantity), 0) from assets`).Scan(&t.Assets, &t.Quantity)
	return t, mapErr(err)
}

// ---- requests ----

const requestCols = `id, asset_id, asset_name, asset_type, requester_name, requester_email, note, status, requested_at, quantity, processed_at`

func scanRequest(row scanner) (inventory.Request, error) {
	var (
		r         inventory.Request
		quantity  sql.NullInt64
		processed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.AssetID, &r.AssetName, &r.AssetType, &r.RequesterName, &r.RequesterEmail,
		&r.Note, &r.Status, &r.RequestedAt, &quantity, &processed)
	if err != nil {
		return inventory.Request{}, mapErr(err)
	}
	if quantity.Valid {
		q := int(quantity.Int64)
		r.Quantity = &q
	}
	if processed.Valid {
		t := processed.Time
		r.ProcessedAt = &t
	}
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *inventory.Request) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	var quantity sql.NullInt64
	if r.Quantity != nil {
		quantity = sql.NullInt64{Int64: int64(*r.Quantity), Valid: true}
	}
	var processed sql.NullTime
	if r.ProcessedAt != nil {
		processed = sql.NullTime{Time: *r.ProcessedAt, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		insert into requests (`+requestCols+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, r.ID, r.AssetID, r.AssetName, r.AssetType, r.RequesterName, r.RequesterEmail, r.Note, r.Status,
		r.RequestedAt, quantity, processed)
	return mapErr(err)
}

func (s *Store) FindRequest(ctx context.Context, id string) (inventory.Request, error) {
	return scanRequest(s.q.QueryRowContext(ctx, `select `+requestCols+` from requests where id=$1`+s.lock(), id))
}

func requestConds(q inventory.RequestQuery, a *args) []string {
	var conds []string
	if q.Status != "" {
		conds = append(conds, "status="+a.add(q.Status))
	}
	if q.RequesterEmail != "" {
		conds = append(conds, "requester_email="+a.add(q.RequesterEmail))
	}
	if q.Search != "" {
		p := a.add(likePattern(q.Search))
		conds = append(conds, "(requester_name ilike "+p+" or requester_email ilike "+p+")")
	}
	return conds
}

func (s *Store) ListRequests(ctx context.Context, q inventory.RequestQuery) ([]inventory.Request, error) {
	var a args
	query := `select ` + requestCols + ` from requests` + where(requestConds(q, &a)) + ` order by requested_at desc, id desc`
	if q.Limit > 0 {
		query += ` limit ` + a.add(q.Limit)
	}
	rows, err := s.q.QueryContext(ctx, query, a...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]inventory.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) CountRequests(ctx context.Context, q inventory.RequestQuery) (int, error) {
	var a args
	var n int
	err := s.q.QueryRowContext(ctx, `select count(*) from requests`+where(requestConds(q, &a)), a...).Scan(&n)
	return n, mapErr(err)
}

func (s *Store) SetRequestStatus(ctx context.Context, id, status string, processedAt time.Time) (inventory.Request, error) {
	return scanRequest(s.q.QueryRowContext(ctx, `
		update requests set status=$1, processed_at=$2
		where id=$3
		returning `+requestCols, status, processedAt, id))
}

func (s *Store) TopRequestedAssets(ctx context.Context, limit int) ([]inventory.AssetDemand, error) {
	if limit <= 0 {
		limit = inventory.TopRequestedSize
	}
	rows, err := s.q.QueryContext(ctx, `
		select asset_id, (array_agg(asset_name order by requested_at asc, id asc))[1], count(*)
		from requests
		group by asset_id
		order by count(*) desc, min(requested_at) asc
		limit $1
	`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]inventory.AssetDemand, 0, limit)
	for rows.Next() {
		var d inventory.AssetDemand
		if err := rows.Scan(&d.AssetID, &d.AssetName, &d.Count); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	return out, mapErr(rows.Err())
}

func (s *Store) RequestTypeStats(ctx context.Context) ([]inventory.TypeCount, error) {
	rows, err := s.q.QueryContext(ctx, `select asset_type, count(*) from requests group by asset_type order by asset_type`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make([]inventory.TypeCount, 0)
	for rows.Next() {
		var c inventory.TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}
