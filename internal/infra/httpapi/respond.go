package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/paging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error   app.Code `json:"error"`
	Message string   `json:"message"`
}

type pageBody struct {
	Data       any               `json:"data"`
	Pagination paging.Pagination `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePage(w http.ResponseWriter, data any, p paging.Pagination) {
	writeJSON(w, http.StatusOK, pageBody{Data: data, Pagination: p})
}

// writeError maps err onto the error taxonomy. Anything that is not an *app.Error
// is an internal error and is logged with its stack.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := app.AsError(err)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Errorf("Unhandled error: %+v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   app.CodeInternal,
			Message: app.DefaultMessage(app.CodeInternal),
		})
		return
	}
	writeJSON(w, app.HTTPStatus(appErr.Code), errorBody{Error: appErr.Code, Message: appErr.Message})
}

// decodeJSON reads the request body into dst and runs struct validation on it.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return app.Validation("invalid JSON body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// pathID reads a chi URL parameter that must hold a UUID v4.
func (s *Server) pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	if err := s.validate.Var(raw, "required,uuid4"); err != nil {
		return uuid.Nil, app.Validation("%s must be a valid UUID v4", name)
	}
	return uuid.MustParse(raw), nil
}

// queryID reads an optional UUID v4 query parameter.
func (s *Server) queryID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	if err := s.validate.Var(raw, "uuid4"); err != nil {
		return uuid.Nil, app.Validation("%s must be a valid UUID v4", name)
	}
	return uuid.MustParse(raw), nil
}

// pageParams parses page and limit. Out of range values are clamped later by Normalize.
func pageParams(r *http.Request) (paging.Page, error) {
	var p paging.Page
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Page}, {"limit", &p.Limit}} {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return paging.Page{}, app.Validation("%s must be an integer", f.name)
		}
		*f.dst = n
	}
	return p, nil
}
