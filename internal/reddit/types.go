package reddit

import (
	"strings"

	"github.com/valyala/fastjson"
)

type TokenResponse struct {
	AccessToken string
	ExpiresIn   int
}

func NewTokenResponse(val *fastjson.Value) interface{} {
	tr := &TokenResponse{}

	tr.AccessToken = string(val.GetStringBytes("access_token"))
	tr.ExpiresIn = val.GetInt("expires_in")

	return tr
}

// Submission is the headline metadata of a discussion thread.
type Submission struct {
	ID          string
	Subreddit   string
	Title       string
	Author      string
	Permalink   string
	URL         string
	SelfText    string
	Score       int64
	NumComments int64
	Archived    bool
	CreatedAt   float64
}

// FullName is the kind-prefixed identifier the API uses in lookups.
func (s *Submission) FullName() string {
	return "t3_" + s.ID
}

func NewSubmission(val *fastjson.Value) *Submission {
	s := &Submission{}

	s.ID = string(val.GetStringBytes("id"))
	s.Subreddit = string(val.GetStringBytes("subreddit"))
	s.Title = string(val.GetStringBytes("title"))
	s.Author = string(val.GetStringBytes("author"))
	s.Permalink = string(val.GetStringBytes("permalink"))
	s.URL = string(val.GetStringBytes("url"))
	s.SelfText = string(val.GetStringBytes("selftext"))
	s.Score = val.GetInt64("score")
	s.NumComments = val.GetInt64("num_comments")
	s.Archived = val.GetBool("archived")
	s.CreatedAt = val.GetFloat64("created_utc")

	return s
}

// NewSubmissionResponse pulls the first child out of an /api/info listing.
func NewSubmissionResponse(val *fastjson.Value) interface{} {
	children := val.GetArray("data", "children")
	if len(children) == 0 {
		return (*Submission)(nil)
	}

	return NewSubmission(children[0].Get("data"))
}

// CommentPayload is one normalized comment out of the tree. ParentID keeps
// the upstream kind prefix ("t1_" comment, "t3_" submission root).
type CommentPayload struct {
	ID        string
	Author    string
	Body      string
	Score     int64
	CreatedAt float64
	ParentID  string
}

func NewCommentPayload(val *fastjson.Value) *CommentPayload {
	cp := &CommentPayload{}

	cp.ID = string(val.GetStringBytes("id"))
	cp.Author = string(val.GetStringBytes("author"))
	if cp.Author == "" {
		cp.Author = "[deleted]"
	}
	cp.Body = string(val.GetStringBytes("body"))
	cp.Score = val.GetInt64("score")
	cp.CreatedAt = val.GetFloat64("created_utc")
	cp.ParentID = string(val.GetStringBytes("parent_id"))

	return cp
}

// Deleted reports whether the author removed themselves or was removed.
func (cp *CommentPayload) Deleted() bool {
	return cp.Author == "[deleted]"
}

// CommentTree is the flattened result of a tree fetch plus any unexpanded
// "more" stubs that still need /api/morechildren round trips.
type CommentTree struct {
	Comments []*CommentPayload
	MoreIDs  []string
}

// NewCommentTreeResponse flattens the two-listing response of
// /comments/{id}.json: element zero is the submission, element one the tree.
func NewCommentTreeResponse(val *fastjson.Value) interface{} {
	tree := &CommentTree{}

	listings := val.GetArray()
	if len(listings) < 2 {
		return tree
	}

	flattenListing(listings[1], tree)

	return tree
}

// NewMoreChildrenResponse flattens an /api/morechildren reply, which nests
// the things under json.data.
func NewMoreChildrenResponse(val *fastjson.Value) interface{} {
	tree := &CommentTree{}

	for _, thing := range val.GetArray("json", "data", "things") {
		flattenThing(thing, tree)
	}

	return tree
}

func flattenListing(val *fastjson.Value, tree *CommentTree) {
	for _, thing := range val.GetArray("data", "children") {
		flattenThing(thing, tree)
	}
}

func flattenThing(val *fastjson.Value, tree *CommentTree) {
	kind := string(val.GetStringBytes("kind"))
	data := val.Get("data")
	if data == nil {
		return
	}

	switch kind {
	case "t1":
		tree.Comments = append(tree.Comments, NewCommentPayload(data))

		// Replies is the empty string on leaves, a listing otherwise.
		if replies := data.Get("replies"); replies != nil && replies.Type() == fastjson.TypeObject {
			flattenListing(replies, tree)
		}
	case "more":
		for _, id := range data.GetArray("children") {
			if s := string(id.GetStringBytes()); s != "" {
				tree.MoreIDs = append(tree.MoreIDs, s)
			}
		}
	}
}

// SplitID separates a kind-prefixed identifier into kind and id.
func SplitID(id string) (string, string) {
	if parts := strings.Split(id, "_"); len(parts) == 2 {
		return parts[0], parts[1]
	}

	return "", ""
}
