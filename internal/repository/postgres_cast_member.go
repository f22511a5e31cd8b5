package repository

import (
	"context"
	"fmt"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

type postgresCastMemberRepository struct {
	conn Connection
}

func NewPostgresCastMember(conn Connection) domain.CastMemberRepository {
	return &postgresCastMemberRepository{conn: conn}
}

const castMemberColumns = `id, created_at, slug, full_name, display_name, show, aliases, is_active`

func (p *postgresCastMemberRepository) fetch(ctx context.Context, query string, args ...interface{}) ([]domain.CastMember, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.CastMember
	for rows.Next() {
		var member domain.CastMember
		if err := rows.Scan(
			&member.ID,
			&member.CreatedAt,
			&member.Slug,
			&member.FullName,
			&member.DisplayName,
			&member.Show,
			&member.Aliases,
			&member.IsActive,
		); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (p *postgresCastMemberRepository) GetByID(ctx context.Context, id int64) (domain.CastMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM cast_members WHERE id = $1`, castMemberColumns)

	members, err := p.fetch(ctx, query, id)

	if err != nil {
		return domain.CastMember{}, err
	}
	if len(members) == 0 {
		return domain.CastMember{}, domain.ErrNotFound
	}
	return members[0], nil
}

func (p *postgresCastMemberRepository) GetBySlug(ctx context.Context, slug string) (domain.CastMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM cast_members WHERE slug = $1`, castMemberColumns)

	members, err := p.fetch(ctx, query, slug)

	if err != nil {
		return domain.CastMember{}, err
	}
	if len(members) == 0 {
		return domain.CastMember{}, domain.ErrNotFound
	}
	return members[0], nil
}

func (p *postgresCastMemberRepository) List(ctx context.Context) ([]domain.CastMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM cast_members ORDER BY slug ASC`, castMemberColumns)

	return p.fetch(ctx, query)
}

func (p *postgresCastMemberRepository) ListActive(ctx context.Context) ([]domain.CastMember, error) {
	query := fmt.Sprintf(`SELECT %s FROM cast_members WHERE is_active ORDER BY slug ASC`, castMemberColumns)

	return p.fetch(ctx, query)
}

func (p *postgresCastMemberRepository) Create(ctx context.Context, member *domain.CastMember) error {
	if err := member.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO cast_members
			(slug, full_name, display_name, show, aliases, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := p.conn.QueryRow(
		ctx,
		query,
		member.Slug,
		member.FullName,
		member.DisplayName,
		member.Show,
		member.Aliases,
		member.IsActive,
	).Scan(&member.ID, &member.CreatedAt)

	return conflictErr(err)
}

func (p *postgresCastMemberRepository) Update(ctx context.Context, member *domain.CastMember) error {
	query := `
		UPDATE cast_members
		SET full_name = $2,
			display_name = $3,
			show = $4,
			aliases = $5,
			is_active = $6
		WHERE id = $1`

	res, err := p.conn.Exec(
		ctx,
		query,
		member.ID,
		member.FullName,
		member.DisplayName,
		member.Show,
		member.Aliases,
		member.IsActive,
	)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}

func (p *postgresCastMemberRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM cast_members WHERE id = $1`

	res, err := p.conn.Exec(ctx, query, id)
	if err != nil {
		return err
	}

	if res.RowsAffected() != 1 {
		return fmt.Errorf("weird behaviour, total rows affected: %d", res.RowsAffected())
	}
	return nil
}
