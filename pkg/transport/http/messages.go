package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kart-io/smsforward/pkg/ledger"
	"github.com/kart-io/smsforward/pkg/model"
	"github.com/kart-io/smsforward/pkg/queue"
)

// ingestMessage accepts an inbound SMS. By default the message is stored
// and queued, and 202 is returned with its id. With ?wait=true, or when no
// dispatcher is wired, it is processed inline and the outcome returned.
func (a *API) ingestMessage(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !a.decode(w, r, &req) {
		return
	}
	wait := false
	if s := r.URL.Query().Get("wait"); s != "" {
		var err error
		if wait, err = strconv.ParseBool(s); err != nil {
			badRequest(w, "invalid wait flag")
			return
		}
	}
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	msg := req.message()

	if wait || a.deps.Submitter == nil {
		out, err := a.deps.Processor.Process(r.Context(), msg)
		if err != nil && out.MessageID == 0 {
			a.writeError(w, r, err)
			return
		}
		if err != nil {
			a.logger.Warn("message processed with errors", "requestID", requestID, "messageID", out.MessageID, "error", err)
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	if err := a.deps.History.Ingest(r.Context(), &msg); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := IngestResponse{MessageID: msg.ID, RequestID: requestID, Status: msg.ForwardStatus}
	if msg.ForwardStatus == model.StatusForwarded || msg.ForwardStatus == model.StatusIgnored {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	env := queue.Envelope{Message: msg, QueuedAt: time.Now(), Source: "http"}
	if err := a.deps.Submitter.Submit(r.Context(), env); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp.Queued = true
	a.logger.Debug("message queued", "requestID", requestID, "messageID", msg.ID)
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	m, err := a.deps.History.Message(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	p, err := parseList(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	msgs, err := a.deps.History.Messages(r.Context(), ledger.MessageFilter{
		Status: p.status, From: p.from, To: p.to, Limit: p.limit, Offset: p.offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "smsID")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rec, err := a.deps.History.RecordBySMSID(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	p, err := parseList(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	recs, err := a.deps.History.Records(r.Context(), ledger.RecordFilter{
		Status: p.status, From: p.from, To: p.to, Limit: p.limit, Offset: p.offset,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.ForwardRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// statistics returns daily buckets and their total. from and to are
// calendar dates in the aggregator's zone; the default is the last 7 days.
func (a *API) statistics(w http.ResponseWriter, r *http.Request) {
	loc := a.deps.Stats.Location()
	q := r.URL.Query()

	to := time.Now().In(loc)
	if s := q.Get("to"); s != "" {
		t, err := time.ParseInLocation(model.DateLayout, s, loc)
		if err != nil {
			badRequest(w, "invalid to date, want "+model.DateLayout)
			return
		}
		to = t
	}
	from := to.AddDate(0, 0, -6)
	if s := q.Get("from"); s != "" {
		t, err := time.ParseInLocation(model.DateLayout, s, loc)
		if err != nil {
			badRequest(w, "invalid from date, want "+model.DateLayout)
			return
		}
		from = t
	}
	if from.After(to) {
		badRequest(w, "from is after to")
		return
	}

	days, err := a.deps.Stats.Range(r.Context(), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	sum, err := a.deps.Stats.Summarize(r.Context(), from, to)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if days == nil {
		days = []model.ForwardStatistics{}
	}
	writeJSON(w, http.StatusOK, StatisticsResponse{Days: days, Summary: sum})
}
