package www

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"intellikeeper/cascade"
	"intellikeeper/messaging"
	"intellikeeper/store"
)

func (h *Handlers) apiHealthCheck(w http.ResponseWriter, r *http.Request) {
	dbOK := h.engine.DB().PingContext(r.Context()) == nil
	status := "ok"
	if !dbOK {
		status = "degraded"
	}
	h.jsonOK(w, map[string]any{
		"status":   status,
		"database": dbOK,
	})
}

func (h *Handlers) apiDispatchStats(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.DispatchStats())
}

func (h *Handlers) apiTestCallback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ev, err := h.engine.RunCallbacks(r.Context(), id, cascade.Test)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, ev)
}

func (h *Handlers) apiTestTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tagID, err := strconv.ParseInt(r.URL.Query().Get("tag"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid tag", http.StatusBadRequest)
		return
	}
	invID, err := h.engine.InvokeTrigger(r.Context(), id, tagID, cascade.Test)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"invocation_id": invID})
}

func (h *Handlers) apiFindTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	outboxID, err := h.engine.FindTag(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"outbox_id": outboxID})
}

func (h *Handlers) apiSyncTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	outboxID, err := h.engine.SyncTag(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"outbox_id": outboxID})
}

type statusRequest struct {
	Active *bool `json:"active"`
}

func (h *Handlers) decodeStatus(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		h.jsonError(w, "body must be {\"active\": bool}", http.StatusBadRequest)
		return false, false
	}
	return *req.Active, true
}

func (h *Handlers) apiSetTagStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	active, ok := h.decodeStatus(w, r)
	if !ok {
		return
	}
	if err := h.engine.SetTagActive(r.Context(), id, active); err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"id": id, "active": active})
}

func (h *Handlers) apiSetTriggerStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.engine.SetTriggerActive)
}

func (h *Handlers) apiSetCallbackStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.engine.SetCallbackActive)
}

func (h *Handlers) apiSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.engine.SetDeviceActive)
}

func (h *Handlers) setStatus(w http.ResponseWriter, r *http.Request, set func(context.Context, int64, bool) error) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	active, ok := h.decodeStatus(w, r)
	if !ok {
		return
	}
	if err := set(r.Context(), id, active); err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"id": id, "active": active})
}

func (h *Handlers) apiTagPath(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	path, err := h.engine.TagPath(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"id": id, "path": path})
}

func (h *Handlers) apiTagEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.engine.DB().GetTag(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	events, err := h.engine.DB().ListEventsByTag(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]tagEventView, len(events))
	for i, ev := range events {
		out[i] = tagEventView{Event: ev}
		// Unknown causes are listed without a kind.
		if kind, err := cascade.KindByCode(ev.CausedBy); err == nil {
			out[i].Kind = string(kind)
		}
	}
	h.jsonOK(w, out)
}

type tagEventView struct {
	*store.Event
	Kind string `json:"kind,omitempty"`
}

func (h *Handlers) apiTagLastSeen(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	at, seen, err := h.engine.LastSeen(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := map[string]any{"id": id, "seen": seen, "last_seen": nil}
	if seen {
		resp["last_seen"] = at.UTC()
	}
	h.jsonOK(w, resp)
}

func (h *Handlers) apiCategoryTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	tags, err := h.engine.TagsInCategory(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, tags)
}

func (h *Handlers) apiOnlineTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	ids, err := h.engine.OnlineTags(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	h.jsonOK(w, map[string]any{"device_id": id, "online": ids})
}

func (h *Handlers) apiRegisterReaders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	readers, err := h.engine.RegisterReaders(r.Context(), id, string(body))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, readers)
}

func (h *Handlers) apiRequestReaders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	outboxID, err := h.engine.RequestReaders(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonOK(w, map[string]any{"outbox_id": outboxID})
}

type batchRequest struct {
	EventTime string `json:"event_time"`
	Tags      string `json:"tags"`
}

func (h *Handlers) apiReconcileBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	at := time.Now()
	if req.EventTime != "" {
		t, err := messaging.ParseEventTime(req.EventTime)
		if err != nil {
			h.fail(w, err)
			return
		}
		at = t
	}
	res, err := h.engine.ReconcileBatch(r.Context(), id, at, req.Tags)
	if err != nil {
		h.fail(w, err)
		return
	}
	lost := make([]int64, len(res.Lost))
	for i, tag := range res.Lost {
		lost[i] = tag.ID
	}
	observed := res.Observed
	if observed == nil {
		observed = []int64{}
	}
	h.jsonOK(w, map[string]any{"observed": observed, "lost": lost})
}
