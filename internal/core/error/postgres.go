package errx

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// PostgresErrorMessage describes PostgreSQL related failures.
const PostgresErrorMessage = "postgres operation failed"

// WrapPostgres maps pgx errors to AppError. pgx.ErrNoRows becomes a 404.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	return New(err, http.StatusBadGateway, PostgresErrorMessage)
}
