package repository

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

// nullableTime maps the zero time to NULL on writes.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

// nullableID maps zero to NULL for optional foreign keys.
func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}

	return &id
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}

	return *t
}

func idOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}

	return *id
}

// conflictErr converts unique violations into the domain sentinel.
func conflictErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrConflict
	}

	return err
}

func channelsToStrings(channels []domain.AlertChannel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}

	return out
}

func stringsToChannels(values []string) []domain.AlertChannel {
	out := make([]domain.AlertChannel, len(values))
	for i, v := range values {
		out[i] = domain.AlertChannel(v)
	}

	return out
}
