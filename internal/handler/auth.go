package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/examgrade/internal/i18n"
	"github.com/pavelanni/examgrade/internal/model"
)

const tokenIssuer = "examgrade"

type claims struct {
	Role model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func (h *Handler) issueToken(u *model.User, now time.Time) (string, time.Time, error) {
	expires := now.Add(h.config.TokenTTL)
	c := &claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(h.config.JWTSecret))
	return signed, expires, err
}

func (h *Handler) parseToken(raw string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (any, error) {
		return []byte(h.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if c.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return c, nil
}

// requireAuth verifies the bearer token and loads the user into the context.
// The stored user wins over the token's role claim, so role changes and
// deactivation apply immediately.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			h.unauthorized(w, r)
			return
		}
		c, err := h.parseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			slog.Debug("rejected token", "error", err)
			h.unauthorized(w, r)
			return
		}

		user, err := h.users.GetUserByID(r.Context(), c.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user == nil || !user.Active {
			h.unauthorized(w, r)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: appI18n.T(r.Context(), "ErrorUnauthorized")})
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: appI18n.T(r.Context(), "ErrorForbidden")})
		})
	}
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="examgrade"`)
	writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: appI18n.T(r.Context(), "ErrorUnauthorized")})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *model.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil || !user.Active {
		h.loginFailed(w, r)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.loginFailed(w, r)
		return
	}

	token, expires, err := h.issueToken(user, time.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, User: user})
}

func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Code: "login_failed", Message: appI18n.T(r.Context(), "ErrorLoginFailed")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}
