package http

import (
	"net/http"

	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/rule"
)

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.deps.Rules.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []model.ForwardRule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	fr, err := a.deps.Rules.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !a.decode(w, r, &req) {
		return
	}
	fr := model.ForwardRule{Enabled: true}
	req.apply(&fr)
	if err := rule.Validate(fr); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Rules.Create(r.Context(), &fr); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("rule created", "ruleID", fr.ID, "name", fr.Name)
	writeJSON(w, http.StatusCreated, fr)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req RuleRequest
	if !a.decode(w, r, &req) {
		return
	}
	fr, err := a.deps.Rules.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req.apply(&fr)
	if err := rule.Validate(fr); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.deps.Rules.Update(r.Context(), fr); err != nil {
		a.writeError(w, r, err)
		return
	}
	if fr, err = a.deps.Rules.Get(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := a.deps.Rules.Delete(r.Context(), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("rule deleted", "ruleID", id)
	w.WriteHeader(http.StatusNoContent)
}
