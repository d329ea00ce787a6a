package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/agenttrust/station/internal/apierr"
	"github.com/agenttrust/station/internal/store"
	"github.com/agenttrust/station/pkg/models"
)

type contextKey string

const developerKey contextKey = "developer"

// SetDeveloper stores the authenticated Developer in the context.
func SetDeveloper(ctx context.Context, dev *models.Developer) context.Context {
	return context.WithValue(ctx, developerKey, dev)
}

// GetDeveloper retrieves the authenticated Developer from the context, if
// any request reaching this point has passed DeveloperAuth.
func GetDeveloper(ctx context.Context) *models.Developer {
	if v, ok := ctx.Value(developerKey).(*models.Developer); ok {
		return v
	}
	return nil
}

// DeveloperAuth authenticates requests via a bearer API key, hashing the
// presented key and looking it up in developersByKeyHash — an O(1) lookup
// regardless of the number of registered developers, replacing a
// linear scan over every configured key.
func DeveloperAuth(st store.DeveloperStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := extractAPIKey(r)
			if apiKey == "" {
				apierr.WriteError(w, apierr.New(apierr.Unauthenticated, "API key required: Authorization: Bearer <key>"))
				return
			}

			dev, err := st.GetDeveloperByAPIKeyHash(r.Context(), store.HashAPIKey(apiKey))
			if err != nil {
				apierr.WriteError(w, apierr.New(apierr.Unauthenticated, "invalid API key"))
				return
			}

			next.ServeHTTP(w, r.WithContext(SetDeveloper(r.Context(), dev)))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return ""
}
