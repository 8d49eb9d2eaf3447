package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/klawrawkz/csla/internal/identity/domain"
)

// Procedure names the credential procedure and its two parameters. All three come from configuration.
// Name may be schema-qualified (e.g. "security.login").
type Procedure struct {
	Name          string
	UserParam     string
	PasswordParam string
}

// statement returns the call for p with quoted identifiers. The procedure is a set-returning
// function of refcursors: the first cursor has at most one row when the credentials match, the
// optional second cursor has one text column of role names.
func (p Procedure) statement() (string, error) {
	name := strings.TrimSpace(p.Name)
	user := strings.TrimSpace(p.UserParam)
	pass := strings.TrimSpace(p.PasswordParam)
	if name == "" || user == "" || pass == "" {
		return "", errors.New("credential procedure name and parameter names must be set")
	}
	return fmt.Sprintf("SELECT cur::text FROM %s(%s => $1, %s => $2) AS cur",
		pgx.Identifier(strings.Split(name, ".")).Sanitize(),
		pgx.Identifier{user}.Sanitize(),
		pgx.Identifier{pass}.Sanitize(),
	), nil
}

// PostgresGateway implements Gateway on a Postgres database through database/sql.
type PostgresGateway struct {
	db   *sql.DB
	call string
}

// NewPostgresGateway returns a gateway that runs proc on db. It returns an error if proc is incomplete.
func NewPostgresGateway(db *sql.DB, proc Procedure) (*PostgresGateway, error) {
	call, err := proc.statement()
	if err != nil {
		return nil, err
	}
	return &PostgresGateway{db: db, call: call}, nil
}

// Lookup runs the credential procedure in a read-only transaction on its own connection.
// When the credentials do not match, or on any error, the transaction is rolled back before
// Lookup returns. Otherwise the returned result owns the transaction until it is closed or its
// role sequence ends.
func (g *PostgresGateway) Lookup(ctx context.Context, c domain.Criteria) (*LookupResult, error) {
	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, connectionError(err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = tx.Rollback()
		}
	}()

	cursors, err := g.openCursors(ctx, tx, c)
	if err != nil {
		return nil, classify(err)
	}
	if len(cursors) == 0 {
		return nil, fmt.Errorf("%w: credential procedure returned no result sets", domain.ErrQuery)
	}

	found, err := fetchAny(ctx, tx, cursors[0])
	if err != nil {
		return nil, classify(err)
	}
	if !found || len(cursors) < 2 {
		return NewLookupResult(found, nil, nil), nil
	}

	rows, err := tx.QueryContext(ctx, "FETCH ALL FROM "+pgx.Identifier{cursors[1]}.Sanitize())
	if err != nil {
		return nil, classify(err)
	}
	keep = true
	return NewLookupResult(true, scanRoles(rows), func() error {
		_ = rows.Close()
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return err
		}
		return nil
	}), nil
}

// openCursors calls the procedure and returns the names of the cursors it opened, in order.
func (g *PostgresGateway) openCursors(ctx context.Context, tx *sql.Tx, c domain.Criteria) ([]string, error) {
	rows, err := tx.QueryContext(ctx, g.call, c.Username, c.Password)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid && name.String != "" {
			names = append(names, name.String)
		}
	}
	return names, rows.Err()
}

// fetchAny reports whether the cursor has at least one row. Column values are not read.
func fetchAny(ctx context.Context, tx *sql.Tx, cursor string) (bool, error) {
	rows, err := tx.QueryContext(ctx, "FETCH NEXT FROM "+pgx.Identifier{cursor}.Sanitize())
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

func scanRoles(rows *sql.Rows) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for rows.Next() {
			var role string
			if err := rows.Scan(&role); err != nil {
				yield("", classify(err))
				return
			}
			if !yield(role, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", classify(err))
		}
	}
}
