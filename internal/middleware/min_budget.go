package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kerjalink/backend/internal/models"
)

// MinBudget rejects task creation below the platform's budget floor before
// the handler runs. The body is re-buffered so the handler can decode it
// again.
func MinBudget() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var probe struct {
				Budget int64 `json:"budget"`
			}
			if err := json.Unmarshal(body, &probe); err != nil {
				http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
				return
			}
			if probe.Budget < models.MinimumTaskBudget {
				http.Error(w, `{"error":"budget below platform minimum"}`, http.StatusUnprocessableEntity)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
