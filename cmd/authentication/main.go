// This is a **mock authentication service**, designed to provide actor
// JWTs for the time tracking service during local development,
// simulating the company's identity provider.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/auth"
)

const (
	defaultPort   = "8081"       // Default port for the authentication service
	defaultSecret = "jwt_secret" // Secret for signing JWT
)

// TokenResponse represents the response structure
type TokenResponse struct {
	Token string `json:"token"`
}

// tokenHandler generates an actor JWT and returns it in a JSON
// response. Query parameters: user, company (UUIDs, random when
// omitted) and role (EMPLOYEE or MANAGER).
func tokenHandler(w http.ResponseWriter, r *http.Request) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = defaultSecret
	}

	actor := auth.Actor{
		UserID:    uuid.New(),
		CompanyID: uuid.New(),
		Role:      auth.RoleEmployee,
	}
	if id, err := uuid.Parse(r.URL.Query().Get("user")); err == nil {
		actor.UserID = id
	}
	if id, err := uuid.Parse(r.URL.Query().Get("company")); err == nil {
		actor.CompanyID = id
	}
	if r.URL.Query().Get("role") == string(auth.RoleManager) {
		actor.Role = auth.RoleManager
	}

	token, err := auth.GenerateToken(actor, secret, 24*time.Hour)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	resp := TokenResponse{Token: token}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(resp)
	if err != nil {
		http.Error(w, "Failed to encode token", http.StatusInternalServerError)
	}
}

func main() {
	port := os.Getenv("AUTH_PORT")
	if port == "" {
		port = defaultPort
	}
	http.HandleFunc("/token", tokenHandler)

	log.Printf("Authentication service running on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
