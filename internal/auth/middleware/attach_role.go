package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-examprep/internal/rbac"
)

// AttachEntitlementsFromDB refreshes role, premium and library from the
// users table, so a downgrade takes effect before the token expires. Must
// run after JWTMiddleware. allowClaimFallback=true in dev/offline; false in
// prod.
func AttachEntitlementsFromDB(db *sql.DB, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := IdentityFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx)

			var role string
			err := db.QueryRowContext(ctx,
				`SELECT role, premium, library_id FROM users WHERE id=$1`,
				id.ID,
			).Scan(&role, &id.Premium, &id.LibraryID)

			switch {
			case err == nil && role != "":
				ctx = rbac.WithRole(WithIdentity(ctx, id), role)
				next.ServeHTTP(w, r.WithContext(ctx))
				return

			case errors.Is(err, sql.ErrNoRows) || isUsersTableMissing(err):
				if claimRole == "admin" || (allowClaimFallback && claimRole != "") {
					next.ServeHTTP(w, r) // keep whatever JWTMiddleware set
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return

			default:
				// unknown DB error: lenient in dev, deny in prod
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		})
	}
}

func isUsersTableMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table: users") || // sqlite
		strings.Contains(msg, `relation "users" does not exist`) // postgres
}
