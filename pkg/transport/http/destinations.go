package http

import (
	"net/http"

	"github.com/kart-io/smsforward/pkg/destination"
	"github.com/kart-io/smsforward/pkg/model"
)

func (a *API) listDestinations(w http.ResponseWriter, r *http.Request) {
	configs, err := a.deps.Destinations.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if configs == nil {
		configs = []model.EmailConfig{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (a *API) getDestination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := a.deps.Destinations.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) getDefaultDestination(w http.ResponseWriter, r *http.Request) {
	c, err := a.deps.Destinations.GetDefault(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) createDestination(w http.ResponseWriter, r *http.Request) {
	var req DestinationRequest
	if !a.decode(w, r, &req) {
		return
	}
	c := model.EmailConfig{IsDefault: req.IsDefault}
	req.apply(&c)
	destination.ApplyPreset(&c)
	if err := destination.Validate(c); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Destinations.Create(r.Context(), &c); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("email destination created", "configID", c.ID, "provider", c.Provider, "default", c.IsDefault)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) updateDestination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req DestinationRequest
	if !a.decode(w, r, &req) {
		return
	}
	c, err := a.deps.Destinations.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req.apply(&c)
	// Only promotion is allowed here; demoting the default would leave no route.
	c.IsDefault = c.IsDefault || req.IsDefault
	destination.ApplyPreset(&c)
	if err := destination.Validate(c); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Destinations.Update(r.Context(), c); err != nil {
		a.writeError(w, r, err)
		return
	}
	if c, err = a.deps.Destinations.Get(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteDestination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.deps.Destinations.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("email destination deleted", "configID", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setDefaultDestination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.deps.Destinations.SetDefault(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, err := a.deps.Destinations.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("default email destination changed", "configID", id)
	writeJSON(w, http.StatusOK, c)
}

// testDestination opens an SMTP session with the stored settings without
// sending mail. A connection failure is a 502.
func (a *API) testDestination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	c, err := a.deps.Destinations.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Checker.Check(r.Context(), c.Destination()); err != nil {
		a.logger.Warn("email destination check failed", "configID", id, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) reportEnvironment(w http.ResponseWriter, r *http.Request) {
	var req EnvironmentRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.deps.Environment.Report(r.Context(), req.snapshot()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
