package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

type UserRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*UserRepository)(nil)

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

type userRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Username          null.String    `db:"username"`
	Email             null.String    `db:"email"`
	Phone             null.String    `db:"phone"`
	PreferredLanguage string         `db:"preferred_language"`
	IsActive          bool           `db:"is_active"`
	Roles             pq.StringArray `db:"roles"`
	PasswordHash      []byte         `db:"password_hash"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	LastLogin         null.Time      `db:"last_login"`
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:                row.ID,
		Name:              row.Name,
		Username:          row.Username.String,
		Email:             row.Email.String,
		Phone:             row.Phone.String,
		PreferredLanguage: row.PreferredLanguage,
		Roles:             row.Roles,
		PasswordHash:      row.PasswordHash,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		LastLogin:         row.LastLogin.Time,
	}
	usr.SetActive(row.IsActive)
	return usr
}

const userColumns = `id, name, username, email, phone, preferred_language, is_active, roles, password_hash, created_at, updated_at, last_login`

func (repo *UserRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	excludedIDs := make([]string, 0, len(excludedUsers))
	for _, usr := range excludedUsers {
		excludedIDs = append(excludedIDs, usr.ID)
	}

	check := func(column, value string, sentinel error) error {
		if value == "" {
			return nil
		}
		query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM users WHERE lower(%s) = lower($1) AND id <> ALL($2))`, column)
		var exists bool
		if err := repo.db.QueryRowContext(ctx, query, value, pq.Array(excludedIDs)).Scan(&exists); err != nil {
			return errors.Wrap(err, "checking uniqueness")
		}
		if exists {
			return sentinel
		}
		return nil
	}

	if err := check("username", username, user.ErrUsernameExists); err != nil {
		return err
	}
	return check("email", email, user.ErrEmailExists)
}

func (repo *UserRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	const query = `
	INSERT INTO users (name, username, email, phone, preferred_language, is_active, roles, password_hash, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		usr.Name, null.NewString(usr.Username, usr.Username != ""), null.NewString(usr.Email, usr.Email != ""),
		null.NewString(usr.Phone, usr.Phone != ""), defaultLang(usr.PreferredLanguage), usr.Active(),
		pq.Array(usr.Roles), usr.PasswordHash, usr.CreatedAt, usr.UpdatedAt,
	).Scan(&usr.ID)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func defaultLang(lang string) string {
	if lang == "" {
		return "en"
	}
	return lang
}

func (repo *UserRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE `
	var args []interface{}
	switch {
	case filter.ID != "":
		query += `id = $1`
		args = append(args, filter.ID)
	case filter.Username != "":
		query += `lower(username) = lower($1)`
		args = append(args, filter.Username)
	case filter.Email != "":
		query += `lower(email) = lower($1)`
		args = append(args, filter.Email)
	case len(filter.UsernameOrEmail) == 2:
		query += `(lower(username) = lower($1) OR lower(email) = lower($2))`
		args = append(args, filter.UsernameOrEmail[0], filter.UsernameOrEmail[1])
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.toUser(), nil
}

func (repo *UserRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			conds = append(conds, fmt.Sprintf("(name ILIKE %s OR username ILIKE %s OR email ILIKE %s)", p, p, p))
		}
		if len(filter.Roles) > 0 {
			conds = append(conds, fmt.Sprintf("roles && %s", arg(pq.Array(filter.Roles))))
		}
		if filter.IsActive != nil {
			conds = append(conds, fmt.Sprintf("is_active = %s", arg(*filter.IsActive)))
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, fmt.Sprintf("created_at >= %s", arg(filter.CreatedFrom)))
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, fmt.Sprintf("created_at <= %s", arg(filter.CreatedTo)))
		}
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, map[string]bool{"name": true, "username": true, "email": true, "created_at": true}, "created_at ASC")

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting users")
	}
	users := make([]user.User, len(rows))
	for i, row := range rows {
		users[i] = row.toUser()
	}
	return users, nil
}

// orderBy renders an ORDER BY clause from whitelisted fields only.
func orderBy(ordering []core.DBOrdering, allowed map[string]bool, fallback string) string {
	var parts []string
	for _, ord := range ordering {
		if allowed[ord.Field] {
			parts = append(parts, ord.String())
		}
	}
	if len(parts) == 0 {
		return " ORDER BY " + fallback
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (repo *UserRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	const query = `
	UPDATE users SET
		name               = COALESCE(NULLIF($2, ''), name),
		username           = COALESCE(NULLIF($3, ''), username),
		email              = COALESCE(NULLIF($4, ''), email),
		phone              = COALESCE(NULLIF($5, ''), phone),
		preferred_language = COALESCE(NULLIF($6, ''), preferred_language),
		roles              = COALESCE($7, roles),
		password_hash      = COALESCE(NULLIF($8, ''::bytea), password_hash),
		is_active          = COALESCE($9, is_active),
		updated_at         = $10
	WHERE id = $1
	RETURNING ` + userColumns

	var roles interface{}
	if usr.Roles != nil {
		roles = pq.Array(usr.Roles)
	}

	var row userRow
	err := repo.db.GetContext(ctx, &row, query,
		usr.ID, usr.Name, usr.Username, usr.Email, usr.Phone, usr.PreferredLanguage,
		roles, usr.PasswordHash, isActive, usr.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	return row.toUser(), nil
}

func (repo *UserRepository) UpdateOrCreateUser(ctx context.Context, usr user.User) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr)
	}
	updated, err := repo.UpdateUser(ctx, usr, usr.IsActive)
	if errors.Cause(err) == user.ErrNotFound {
		return repo.CreateUser(ctx, usr)
	}
	return updated, err
}

func (repo *UserRepository) SetUserLastLogin(ctx context.Context, id string, lastLogin time.Time) error {
	res, err := repo.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, lastLogin)
	if err != nil {
		return errors.Wrap(err, "updating last login")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo *UserRepository) DeleteUsersByID(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (repo *UserRepository) BlacklistToken(ctx context.Context, tokenSig string, expiresAt time.Time) error {
	_, err := repo.db.ExecContext(ctx, `
	INSERT INTO auth_token_blacklist (token_sig, expires_at) VALUES ($1, $2)
	ON CONFLICT (token_sig) DO NOTHING`, tokenSig, expiresAt)
	return errors.Wrap(err, "blacklisting token")
}

func (repo *UserRepository) IsTokenBlacklisted(ctx context.Context, tokenSig string) (bool, error) {
	var exists bool
	err := repo.db.QueryRowContext(ctx, `
	SELECT EXISTS (SELECT 1 FROM auth_token_blacklist WHERE token_sig = $1 AND expires_at > now())`,
		tokenSig).Scan(&exists)
	return exists, errors.Wrap(err, "checking token blacklist")
}
