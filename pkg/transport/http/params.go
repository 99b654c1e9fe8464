package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kart-io/smsforward/pkg/model"
)

const (
	defaultLimit = 50
	maxLimit     = 500
	maxBodyBytes = 1 << 20
)

// decode reads a JSON body into v and validates it. It writes a 400 and
// returns false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		badRequest(w, err.Error())
		return false
	}
	return true
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, chi.URLParam(r, name))
	}
	return id, nil
}

type listParams struct {
	status model.ForwardStatus
	from   time.Time
	to     time.Time
	limit  int
	offset int
}

func parseList(r *http.Request) (listParams, error) {
	q := r.URL.Query()
	p := listParams{limit: defaultLimit}

	if s := q.Get("status"); s != "" {
		p.status = model.ForwardStatus(s)
		if !p.status.Valid() {
			return p, fmt.Errorf("invalid status %q", s)
		}
	}
	var err error
	if p.from, err = parseTime(q.Get("from")); err != nil {
		return p, err
	}
	if p.to, err = parseTime(q.Get("to")); err != nil {
		return p, err
	}
	if s := q.Get("limit"); s != "" {
		if p.limit, err = strconv.Atoi(s); err != nil || p.limit <= 0 {
			return p, fmt.Errorf("invalid limit %q", s)
		}
		p.limit = min(p.limit, maxLimit)
	}
	if s := q.Get("offset"); s != "" {
		if p.offset, err = strconv.Atoi(s); err != nil || p.offset < 0 {
			return p, fmt.Errorf("invalid offset %q", s)
		}
	}
	return p, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339", s)
	}
	return t, nil
}
