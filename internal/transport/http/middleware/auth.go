package httpmw

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/security"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/errs"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/httputil"
	"github.com/Dakshin211/soulsync-vibes-connect/pkg/logger"
)

type ctxKey string

const (
	ctxKeyToken  ctxKey = "token"
	ctxKeyUserID ctxKey = "user_id"
)

// Auth: с verifier — проверка JWT (sub = user id); без него — доверенный
// режим Bearer + X-User-ID, токен не проверяется.
type Auth struct {
	verifier security.TokenVerifier
}

func NewAuth(v security.TokenVerifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate возвращает id пользователя. claimedUserID, если задан, должен
// совпасть с subject токена.
func (a *Auth) Authenticate(token, claimedUserID string) (string, error) {
	token = strings.TrimSpace(token)
	claimedUserID = strings.TrimSpace(claimedUserID)
	if token == "" {
		return "", errs.ErrUnauthorized
	}
	if a.verifier == nil {
		if claimedUserID == "" {
			return "", errs.ErrUnauthorized
		}
		return claimedUserID, nil
	}
	uid, err := a.verifier.VerifyAccessToken(token)
	if err != nil {
		return "", errs.ErrUnauthorized
	}
	if claimedUserID != "" && claimedUserID != uid {
		return "", errs.ErrUnauthorized
	}
	return uid, nil
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || len(auth) <= 7 {
			httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(auth[7:])

		uid, err := a.Authenticate(token, r.Header.Get("X-User-ID"))
		if err != nil {
			httputil.Error(r.Context(), w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyToken, token)
		ctx = context.WithValue(ctx, ctxKeyUserID, uid)
		ctx = logger.With(ctx, slog.String("user_id", uid))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}
