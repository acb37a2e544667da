package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/natours/apiserver/internal/access"
	"github.com/natours/apiserver/internal/services"
	"github.com/natours/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	jwtCookie       = "jwt"
	loggedOutValue  = "loggedout"
	loggedOutMaxAge = 10 * time.Second
)

// CookieOptions controls the session cookie written on login.
type CookieOptions struct {
	TTL    time.Duration
	Secure bool
}

// Authenticator provides the authentication and authorization middleware.
type Authenticator struct {
	authService *services.AuthService
	log         logrus.FieldLogger
}

func NewAuthenticator(authService *services.AuthService, log logrus.FieldLogger) *Authenticator {
	return &Authenticator{authService: authService, log: log}
}

// Protect authenticates the request from the bearer header or the session
// cookie and stores the user in the request context.
func (a *Authenticator) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cookie string
		if c, err := r.Cookie(jwtCookie); err == nil {
			cookie = c.Value
		}

		user, err := a.authService.Authenticate(r.Context(), r.Header.Get("Authorization"), cookie)
		if err != nil {
			writeError(w, a.log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RestrictTo returns middleware that authenticates the request and then
// admits only the given roles. It panics on an empty or unknown role list.
func (a *Authenticator) RestrictTo(roles ...types.Role) func(http.Handler) http.Handler {
	if len(roles) == 0 {
		panic("handlers: RestrictTo needs at least one role")
	}
	for _, role := range roles {
		if !role.Valid() {
			panic(fmt.Sprintf("handlers: RestrictTo with unknown role %q", role))
		}
	}
	allowed := append([]types.Role(nil), roles...)

	return func(next http.Handler) http.Handler {
		gate := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				writeError(w, a.log, access.ErrMissingCredential)
				return
			}
			if err := access.Check(user, allowed); err != nil {
				writeError(w, a.log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
		return a.Protect(gate)
	}
}

// UserHandler provides the account and user administration endpoints.
type UserHandler struct {
	authService *services.AuthService
	userService *services.UserService
	cookies     CookieOptions
	// baseURL prefixes reset links; request headers never do.
	baseURL string
	log     logrus.FieldLogger
}

func NewUserHandler(
	authService *services.AuthService,
	userService *services.UserService,
	cookies CookieOptions,
	baseURL string,
	log logrus.FieldLogger,
) *UserHandler {
	return &UserHandler{
		authService: authService,
		userService: userService,
		cookies:     cookies,
		baseURL:     strings.TrimRight(baseURL, "/"),
		log:         log,
	}
}

// UsersRouter registers user routes on the given router.
func UsersRouter(r chi.Router, handler *UserHandler, authn *Authenticator) {
	r.Post("/signup", handler.Signup)
	r.Post("/login", handler.Login)
	r.Get("/logout", handler.Logout)
	r.Post("/forgotPassword", handler.ForgotPassword)
	r.Patch("/resetPassword/{token}", handler.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(authn.Protect)
		r.Patch("/updateMyPassword", handler.UpdateMyPassword)
		r.Get("/me", handler.Me)
	})

	r.Group(func(r chi.Router) {
		r.Use(authn.RestrictTo(types.RoleAdmin))
		r.Get("/", handler.ListUsers)
		r.Patch("/{userID}/role", handler.SetRole)
		r.Delete("/{userID}", handler.DeleteUser)
	})
}

func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.writeSession(w, http.StatusCreated, session)
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

// Logout overwrites the session cookie. Bearer tokens stay valid until
// they expire.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     jwtCookie,
		Value:    loggedOutValue,
		Path:     "/",
		Expires:  time.Now().Add(loggedOutMaxAge),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": statusSuccess})
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email, h.baseURL); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Status: statusSuccess, Message: "Token sent to email!"})
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req services.NewPasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.ResetPassword(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

func (h *UserHandler) UpdateMyPassword(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, h.log, access.ErrMissingCredential)
		return
	}

	var req UpdatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	session, err := h.authService.UpdatePassword(r.Context(), user.ID, req.PasswordCurrent, services.NewPasswordInput{
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.writeSession(w, http.StatusOK, session)
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, h.log, access.ErrMissingCredential)
		return
	}
	writeData(w, http.StatusOK, UserData{User: user})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	users, total, err := h.userService.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Status:  statusSuccess,
		Results: len(users),
		Page:    page,
		Limit:   limit,
		Total:   total,
		Data:    UsersData{Users: users},
	})
}

func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req SetRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	user, err := h.userService.SetRole(r.Context(), chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("role changed")
	writeData(w, http.StatusOK, UserData{User: user})
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Delete(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) writeSession(w http.ResponseWriter, status int, session services.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     jwtCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  time.Now().Add(h.cookies.TTL),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, status, AuthResponse{
		Status: statusSuccess,
		Token:  session.Token,
		Data:   UserData{User: session.User},
	})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type UpdatePasswordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}

type UserData struct {
	User types.User `json:"user"`
}

type UsersData struct {
	Users []types.User `json:"users"`
}

// AuthResponse is returned whenever a new session is issued.
type AuthResponse struct {
	Status string   `json:"status"`
	Token  string   `json:"token"`
	Data   UserData `json:"data"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
