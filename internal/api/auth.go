package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var errKeySetUnavailable = errors.New("key set unavailable")

type contextKey string

const subjectKey contextKey = "auth.subject"

// requestSubject is the verified token subject, or empty when the request
// was not authenticated.
func requestSubject(ctx context.Context) string {
	subject, _ := ctx.Value(subjectKey).(string)
	return subject
}

// authenticator verifies bearer tokens against the identity provider's
// published key set. Keys are cached and refreshed in the background.
type authenticator struct {
	jwks       *jwk.Cache
	jwksURL    string
	algorithms map[string]struct{}
	options    []jwt.ParseOption
}

// newAuthenticator returns nil when no JWKS URL is configured, which turns
// token verification off. Development environments run that way.
func newAuthenticator(ctx context.Context, jwksURL, issuer, audience string, algorithms []string) (*authenticator, error) {
	if jwksURL == "" {
		return nil, nil
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("could not register jwks url: %w", err)
	}

	allowed := make(map[string]struct{}, len(algorithms))
	for _, alg := range algorithms {
		allowed[alg] = struct{}{}
	}

	options := []jwt.ParseOption{jwt.WithValidate(true)}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		options = append(options, jwt.WithAudience(audience))
	}

	return &authenticator{
		jwks:       cache,
		jwksURL:    jwksURL,
		algorithms: allowed,
		options:    options,
	}, nil
}

// verify checks the signature, algorithm, and claims of a raw token and
// returns its subject. Errors wrap errKeySetUnavailable when the provider's
// keys could not be fetched, every other failure means the token is bad.
func (auth *authenticator) verify(ctx context.Context, raw string) (string, error) {
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return "", fmt.Errorf("malformed token: %w", err)
	}

	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return "", errors.New("token carries no signature")
	}

	alg := sigs[0].ProtectedHeaders().Algorithm()
	if _, ok := auth.algorithms[alg.String()]; !ok {
		return "", fmt.Errorf("token signed with disallowed algorithm %q", alg)
	}

	keys, err := auth.jwks.Get(ctx, auth.jwksURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errKeySetUnavailable, err)
	}

	options := make([]jwt.ParseOption, 0, len(auth.options)+1)
	options = append(options, jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)))
	options = append(options, auth.options...)

	token, err := jwt.Parse([]byte(raw), options...)
	if err != nil {
		return "", err
	}

	return token.Subject(), nil
}

func (a *api) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil || healthCheckPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			a.errorResponse(w, r, 401, "missing bearer token")
			return
		}

		subject, err := a.auth.verify(r.Context(), raw)
		if err != nil {
			if errors.Is(err, errKeySetUnavailable) {
				a.errorResponse(w, r, 503, "token verification unavailable")
				return
			}

			a.errorResponse(w, r, 401, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	const scheme = "bearer "

	header := r.Header.Get("Authorization")
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}

	return strings.TrimSpace(header[len(scheme):]), true
}
