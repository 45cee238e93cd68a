package access

import "strings"

// selectorOf returns the trailing selector of a scope code when it is one of
// the ownership selectors, and "" otherwise.
func selectorOf(code string) string {
	idx := strings.LastIndex(code, ".")
	if idx < 0 {
		return ""
	}
	switch sel := code[idx+1:]; sel {
	case SelectorOwn, SelectorAny:
		return sel
	default:
		return ""
	}
}

// Authorize decides whether the verified claim set allows the required
// scope. The scope literal must be present in the token audience list; when
// it carries the "own" selector the acting subject must additionally be the
// resource owner. resourceOwnerID may be empty for scopes without ownership
// semantics.
func Authorize(claims *Claims, requiredScope, resourceOwnerID string) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if !claims.HasAudience(requiredScope) {
		return ErrUnauthorized
	}
	if selectorOf(requiredScope) == SelectorOwn && claims.Subject != resourceOwnerID {
		return ErrUnauthorized
	}
	return nil
}

// AuthorizeAny reports whether any of the required scopes is allowed.
func AuthorizeAny(claims *Claims, requiredScopes []string, resourceOwnerID string) error {
	for _, scope := range requiredScopes {
		if Authorize(claims, scope, resourceOwnerID) == nil {
			return nil
		}
	}
	return ErrUnauthorized
}
