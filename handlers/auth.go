// unadulting/handlers/auth.go
package handlers

import (
	"net/http"
)

// HandleSignUp registers a new account and returns its session token.
func HandleSignUp(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	session, err := app.Sessions().SignUp(req.Username, req.Email, req.Password)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusCreated, session, app)
}

// HandleSignIn authenticates by email and password.
func HandleSignIn(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	session, err := app.Sessions().SignIn(req.Email, req.Password)
	if err != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusOK, session, app)
}

// HandleSignOut drops the tracked session. Bearer tokens themselves expire
// on their own schedule.
func HandleSignOut(w http.ResponseWriter, r *http.Request, app App) {
	app.Sessions().SignOut()
	respondJSON(w, http.StatusOK, map[string]bool{"signedOut": true}, app)
}

// HandleRequestPasswordReset mints a single-use reset token. Delivery is
// the deployment's concern; unknown emails get the same response shape.
func HandleRequestPasswordReset(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	token, err := app.Sessions().RequestPasswordReset(req.Email)
	if err != nil {
		respondError(w, err, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"resetToken": token}, app)
}

// HandleResetPassword redeems a reset token.
func HandleResetPassword(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := app.Sessions().ResetPassword(req.Token, req.Password); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true}, app)
}

// HandleUpdatePassword changes the signed-in caller's password.
func HandleUpdatePassword(w http.ResponseWriter, r *http.Request, app App) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req, app) {
		return
	}
	if err := app.Sessions().UpdatePassword(r.Context(), req.Password); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"updated": true}, app)
}
