package http

import (
	"errors"
	"net/http"

	"spendwatch/internal/core"
	"spendwatch/internal/log"
	"spendwatch/internal/services"
)

type userJSON struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func newUserJSON(u core.User) userJSON {
	return userJSON{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName(),
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	p, err := NewRequestBodyParser(w, r)
	if err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	defer p.Close()

	in := services.SignupInput{
		Email:      p.Get("email"),
		Password:   p.Get("password"),
		FirstName:  p.Get("first_name"),
		LastName:   p.Get("last_name"),
		MiddleName: p.Get("middle_name"),
	}
	if in.Email == "" || in.Password == "" || in.FirstName == "" || in.LastName == "" {
		BadRequestError("All fields are required").Write(w)
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	u, err := s.auth.Signup(ctx, in)
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		ConflictError("Email already registered").Write(w)
		return
	case errors.Is(err, services.ErrWeakPassword),
		errors.Is(err, core.ErrInvalidEmail),
		errors.Is(err, core.ErrMissingName),
		errors.Is(err, core.ErrMissingPassword):
		BadRequestError(err.Error()).Write(w)
		return
	case err != nil:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Signup failed", log.FieldError, err)
		InternalServerError("Signup failed").Write(w)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{
		"message": "User created successfully",
		"user":    newUserJSON(u),
	}).Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := NewRequestBodyParser(w, r)
	if err != nil {
		BadRequestError("Invalid request body").Write(w)
		return
	}
	defer p.Close()

	email, password := p.Get("email"), p.Get("password")
	if email == "" || password == "" {
		BadRequestError("Email and password are required").Write(w)
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	res, err := s.auth.Login(ctx, email, password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		UnauthorizedError("Invalid email or password").Write(w)
		return
	}
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Login failed", log.FieldError, err)
		InternalServerError("Login failed").Write(w)
		return
	}

	NewJSONResponse().Body(map[string]any{
		"message":      "Login successful",
		"access_token": res.Token,
		"expires_at":   formatTime(res.ExpiresAt),
		"user":         newUserJSON(res.User),
	}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	ctx, cancel := s.storeContext(r)
	defer cancel()
	if err := s.auth.Logout(ctx, token); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Logout failed", log.FieldError, err)
		InternalServerError("Logout failed").Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
