package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/klawrawkz/csla/internal/identity/domain"
)

// connectionError wraps err as domain.ErrConnection. Used for failures acquiring a connection,
// where every error means the store could not be reached.
func connectionError(err error) error {
	if errors.Is(err, domain.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrConnection, err)
}

// classify wraps a driver error as domain.ErrConnection when it signals a lost or refused
// connection and as domain.ErrQuery otherwise. Already classified errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrConnection) || errors.Is(err, domain.ErrQuery) {
		return err
	}
	if isConnectionFailure(err) {
		return fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrQuery, err)
}

func isConnectionFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P01-57P03 are shutdown and startup states.
		switch {
		case strings.HasPrefix(pgErr.Code, "08"):
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
