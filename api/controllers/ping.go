package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/parcelhq/trackwise-backend/api/middleware"
	"github.com/parcelhq/trackwise-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "private", "status": "ok"}
		if customerID := middleware.CustomerIDFromContext(r.Context()); customerID != uuid.Nil {
			payload["customer_id"] = customerID.String()
		}
		responses.WriteSuccess(w, payload)
	}
}
