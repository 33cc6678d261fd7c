package gateway

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/waclerk/waclerk/internal/store"
)

// Resource classes a permission decision can name.
const (
	resourceBot  = "bot"
	resourceUser = "user"
)

// Query rewrites the proxy applies for non-admin callers.
const (
	injectNone = iota
	injectBotIDs
	injectUserIDs
	injectEventBots
)

// The extraction set is fixed. Paths that match none of the patterns carry
// no ownable id, so only admins pass them.
var (
	userPathRE    = regexp.MustCompile(`^/api/external/users/([^/]+)`)
	botPathRE     = regexp.MustCompile(`^/api/external/bots/([^/]+)`)
	replyQueueRE  = regexp.MustCompile(`^/api/external/features/automatic_bot_reply/queue/([^/]+)`)
	trackedPathRE = regexp.MustCompile(`^/api/external/features/periodic_group_tracking/trackedGroupMessages/([^/]+)`)
	safeIDRE      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// decision is the outcome of the permission check: a pure function of
// (method, path, session). Same inputs, same answer.
type decision struct {
	allowed  bool
	resource string
	id       string
	inject   int
	claim    bool
}

func checkPermission(method, path string, sess *store.Session) decision {
	switch path {
	case "/api/external/bots", "/api/external/bots/status":
		return decision{allowed: true, inject: injectBotIDs}
	case "/api/external/users", "/api/external/users/status":
		// The list surface is read-only for non-admins; the proxy
		// re-filters results by ownership. Mutations here create or alter
		// accounts, which is admin territory.
		if sess.Role == store.RoleAdmin || method == http.MethodGet {
			return decision{allowed: true, inject: injectUserIDs}
		}
		return decision{resource: resourceUser}
	case "/api/external/events/ws":
		return decision{allowed: true, inject: injectEventBots}
	}
	if strings.HasPrefix(path, "/api/external/resources/") ||
		strings.HasPrefix(path, "/api/external/schemas/") {
		return decision{allowed: true}
	}

	resource, id := extractID(path)
	if id != "" && !safeIDRE.MatchString(id) {
		// Traversal and injection attempts are denied for every role.
		return decision{resource: resource}
	}
	if sess.Role == store.RoleAdmin {
		return decision{allowed: true, resource: resource, id: id}
	}

	switch resource {
	case resourceUser:
		// The root user document and the quota switch are admin territory
		// even for the owner: a quota-disabled owner must not flip their
		// own account back on. Other sub-resources stay available.
		if id == sess.UserID &&
			path != "/api/external/users/"+id &&
			path != "/api/external/users/"+id+"/status" {
			return decision{allowed: true, resource: resource, id: id}
		}
	case resourceBot:
		// PUT is open regardless of current ownership: writing a bot
		// document is how a user claims it.
		if sess.Owns(id) || method == http.MethodPut {
			return decision{allowed: true, resource: resource, id: id, claim: method == http.MethodPut}
		}
	}
	return decision{resource: resource, id: id}
}

// extractID pulls the owner-relevant identifier out of the path. First
// match wins; the pattern set never changes at runtime.
func extractID(path string) (resource, id string) {
	if m := userPathRE.FindStringSubmatch(path); m != nil {
		return resourceUser, m[1]
	}
	if m := botPathRE.FindStringSubmatch(path); m != nil {
		return resourceBot, m[1]
	}
	if m := replyQueueRE.FindStringSubmatch(path); m != nil {
		return resourceBot, m[1]
	}
	if m := trackedPathRE.FindStringSubmatch(path); m != nil {
		return resourceBot, m[1]
	}
	return "", ""
}
