package linker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/therealityreport/socializer-backend/internal/domain"
)

// Entity is one span a recognizer proposes.
type Entity struct {
	Text  string
	Label string
}

// EntityExtractor produces named entities for the NER pass.
type EntityExtractor func(text string) []Entity

type aliasPattern struct {
	castMemberID int64
	re           *regexp.Regexp
}

// Catalog indexes the active cast for mention detection. Build one per task
// run; it is read-only afterwards and safe to share.
type Catalog struct {
	members        map[int64]domain.CastMember
	memberAliases  map[int64][]string
	aliasOwner     map[string]int64
	orderedAliases []string
	patterns       []aliasPattern
	extract        EntityExtractor
}

type CatalogOption func(*Catalog)

// WithEntityExtractor overrides the NER pass.
func WithEntityExtractor(fn EntityExtractor) CatalogOption {
	return func(c *Catalog) {
		c.extract = fn
	}
}

// NewCatalog assembles the alias index from the cast roster. Every member
// contributes their full name, display name, spaced slug, admin aliases and
// any roster-file aliases keyed by their slug.
func NewCatalog(members []domain.CastMember, roster map[string][]string, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		members:       make(map[int64]domain.CastMember, len(members)),
		memberAliases: make(map[int64][]string, len(members)),
		aliasOwner:    map[string]int64{},
		extract:       proseEntities,
	}

	for _, member := range members {
		member := member
		c.members[member.ID] = member

		c.register(member.ID, member.FullName)
		c.register(member.ID, member.DisplayName)
		c.register(member.ID, member.SlugName())
		for _, alias := range member.Aliases {
			c.register(member.ID, alias)
		}
		for _, alias := range roster[member.Slug] {
			c.register(member.ID, alias)
		}
	}

	c.orderedAliases = make([]string, 0, len(c.aliasOwner))
	for alias := range c.aliasOwner {
		c.orderedAliases = append(c.orderedAliases, alias)
	}
	sort.Strings(c.orderedAliases)

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// register lowercases and indexes one alias. Duplicate aliases keep their
// first owner.
func (c *Catalog) register(castMemberID int64, alias string) {
	alias = strings.ToLower(strings.TrimSpace(alias))
	if len(alias) < 2 {
		return
	}
	if _, taken := c.aliasOwner[alias]; taken {
		return
	}

	c.aliasOwner[alias] = castMemberID
	c.memberAliases[castMemberID] = append(c.memberAliases[castMemberID], alias)
	c.patterns = append(c.patterns, aliasPattern{
		castMemberID: castMemberID,
		re:           regexp.MustCompile(`(?i)(?:^|[^0-9a-z])(` + regexp.QuoteMeta(alias) + `)(?:[^0-9a-z]|$)`),
	})
}

// Member returns the indexed cast member, if still part of the catalog.
func (c *Catalog) Member(id int64) (domain.CastMember, bool) {
	member, ok := c.members[id]
	return member, ok
}

// Members lists the indexed cast ordered by id.
func (c *Catalog) Members() []domain.CastMember {
	out := make([]domain.CastMember, 0, len(c.members))
	for _, member := range c.members {
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// AliasesFor returns the registered aliases for one cast member, used for
// opinion-target matching.
func (c *Catalog) AliasesFor(castMemberID int64) []string {
	return c.memberAliases[castMemberID]
}

// Len is the number of indexed cast members.
func (c *Catalog) Len() int {
	return len(c.members)
}

func proseEntities(text string) []Entity {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	entities := doc.Entities()
	out := make([]Entity, len(entities))
	for i, entity := range entities {
		out[i] = Entity{Text: entity.Text, Label: entity.Label}
	}

	return out
}
