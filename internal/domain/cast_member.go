package domain

import (
	"context"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CastMember is owned by the admin surface; the pipeline only reads it.
type CastMember struct {
	ID        int64
	CreatedAt time.Time

	Slug        string
	FullName    string
	DisplayName string
	Show        string
	Aliases     []string
	IsActive    bool
}

// CanonicalName is the name used in quotes and alert copy.
func (cm *CastMember) CanonicalName() string {
	if cm.DisplayName != "" {
		return cm.DisplayName
	}

	return cm.FullName
}

// SlugName converts the slug back into a spaced, matchable name.
func (cm *CastMember) SlugName() string {
	return strings.ReplaceAll(cm.Slug, "-", " ")
}

func (cm *CastMember) Validate() error {
	return validation.ValidateStruct(cm,
		validation.Field(&cm.Slug, validation.Required, validation.Match(regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`))),
		validation.Field(&cm.FullName, validation.Required, validation.Length(1, 128)),
		validation.Field(&cm.Show, validation.Required, validation.Length(1, 128)),
	)
}

type CastMemberRepository interface {
	GetByID(ctx context.Context, id int64) (CastMember, error)
	GetBySlug(ctx context.Context, slug string) (CastMember, error)
	List(ctx context.Context) ([]CastMember, error)
	ListActive(ctx context.Context) ([]CastMember, error)

	Create(ctx context.Context, cm *CastMember) error
	Update(ctx context.Context, cm *CastMember) error
	Delete(ctx context.Context, id int64) error
}
