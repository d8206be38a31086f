// internal/access/stage.go
package access

import (
	"net/http"
	"strings"

	"fitjourney/internal/apperr"
	"fitjourney/internal/identity"
)

// TokenValidator verifies a bearer token.
type TokenValidator interface {
	ValidateToken(raw string) (*identity.Principal, error)
}

// State is what the chain knows about the request so far.
type State struct {
	Rule      Rule
	Principal *identity.Principal
}

// Stage inspects the request and the current state and either returns the
// next state or rejects the request.
type Stage func(r *http.Request, st State) (State, error)

// MatchStage resolves the rule for the request path.
func MatchStage(p Policy) Stage {
	return func(r *http.Request, st State) (State, error) {
		st.Rule = p.Match(r.URL.Path)
		return st, nil
	}
}

// TokenStage validates the bearer token of non-public requests.
func TokenStage(v TokenValidator) Stage {
	return func(r *http.Request, st State) (State, error) {
		if st.Rule.Public {
			return st, nil
		}

		raw, ok := BearerToken(r)
		if !ok {
			return st, apperr.New(apperr.ErrTokenInvalid, "missing bearer token")
		}

		principal, err := v.ValidateToken(raw)
		if err != nil {
			return st, err
		}
		st.Principal = principal
		return st, nil
	}
}

// RoleStage checks the verified role against the matched rule.
func RoleStage() Stage {
	return func(r *http.Request, st State) (State, error) {
		if st.Rule.Public {
			return st, nil
		}
		if st.Principal == nil {
			return st, apperr.New(apperr.ErrTokenInvalid, "missing identity")
		}
		if !st.Rule.Allows(st.Principal.Role) {
			return st, apperr.New(apperr.ErrForbidden, "role "+string(st.Principal.Role)+" may not access "+st.Rule.Prefix)
		}
		return st, nil
	}
}

// Evaluate runs stages in order and stops at the first rejection.
func Evaluate(r *http.Request, stages ...Stage) (State, error) {
	var st State
	for _, stage := range stages {
		next, err := stage(r, st)
		if err != nil {
			return next, err
		}
		st = next
	}
	return st, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
