package http

import (
	"errors"
	"net/http"

	"numtrack/internal/auth"
	"numtrack/internal/core"
	"numtrack/internal/ledger"
	applog "numtrack/internal/log"
)

// dataResponse is the body of GET /api/data: per-label totals, the raw
// entry history and the threshold.
type dataResponse struct {
	Numbers   map[string]float64   `json:"numbers"`
	History   map[string][]float64 `json:"history"`
	Threshold float64              `json:"threshold"`
}

func newDataResponse(snap ledger.Snapshot) dataResponse {
	resp := dataResponse{
		Numbers:   make(map[string]float64, len(snap.Entries)),
		History:   make(map[string][]float64, len(snap.Entries)),
		Threshold: snap.Threshold,
	}
	for _, row := range ledger.Rows(snap) {
		resp.Numbers[string(row.Label)] = row.Total
		resp.History[string(row.Label)] = row.Entries
	}
	return resp
}

// mutationResponse reports a committed mutation. Synced is false when the
// change was applied but could not be persisted.
type mutationResponse struct {
	Success bool         `json:"success"`
	Synced  bool         `json:"synced"`
	Warning string       `json:"warning,omitempty"`
	Labels  []string     `json:"labels,omitempty"`
	Data    dataResponse `json:"data"`
}

// postDataRequest carries either the free-text form {numbers, value} or the
// per-entry form {numberKey, value, isAddValue}.
type postDataRequest struct {
	Numbers    *string     `json:"numbers"`
	NumberKey  *flexString `json:"numberKey"`
	Value      flexValue   `json:"value"`
	IsAddValue *bool       `json:"isAddValue"`
}

type editDataRequest struct {
	ClearAll  bool        `json:"clearAll"`
	NumberKey *flexString `json:"numberKey"`
	Index     *int        `json:"index"`
	Value     flexValue   `json:"value"`
}

// putDataRequest is a whole ledger in the stored snapshot shape. Both
// fields are required so a truncated body never wipes a ledger.
type putDataRequest struct {
	NumberValues    map[string][]float64 `json:"numberValues"`
	GlobalThreshold *float64             `json:"globalThreshold"`
}

type thresholdRequest struct {
	Threshold flexValue `json:"threshold"`
}

type parseRequest struct {
	Raw  string `json:"raw"`
	Prev string `json:"prev"`
}

type parseResponse struct {
	Text   string   `json:"text"`
	Cursor int      `json:"cursor"`
	Labels []string `json:"labels,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ownerStore resolves the authenticated owner and its store, writing the
// error response itself when that fails.
func (s *Server) ownerStore(w http.ResponseWriter, r *http.Request, op string) (string, *ledger.Store, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		ErrorResponse(http.StatusUnauthorized, "missing bearer token").Write(w)
		return "", nil, false
	}
	store, err := s.storeFor(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, op, err)
		return "", nil, false
	}
	return owner, store, true
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	_, store, ok := s.ownerStore(w, r, applog.OpLoad)
	if !ok {
		return
	}
	NewJSONResponse().Body(newDataResponse(store.Snapshot())).Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, store, ok := s.ownerStore(w, r, applog.OpLoad)
	if !ok {
		return
	}
	NewJSONResponse().Body(store.Summary()).Write(w)
}

func (s *Server) handlePostData(w http.ResponseWriter, r *http.Request) {
	var req postDataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	var (
		labels []core.Label
		err    error
	)
	switch {
	case req.NumberKey != nil:
		var l core.Label
		if l, err = parseLabel(string(*req.NumberKey)); err == nil {
			labels = []core.Label{l}
		}
	case req.Numbers != nil:
		labels, err = core.ParseLabels(*req.Numbers)
	default:
		err = ledger.ErrNoLabels
	}
	if err != nil {
		s.writeError(w, r, applog.OpAppend, err)
		return
	}
	value, err := req.Value.Float()
	if err != nil {
		s.writeError(w, r, applog.OpAppend, err)
		return
	}

	owner, store, ok := s.ownerStore(w, r, applog.OpAppend)
	if !ok {
		return
	}

	op := applog.OpAppend
	if req.IsAddValue != nil && !*req.IsAddValue {
		// Setting a label directly only applies to the per-entry form.
		if req.NumberKey == nil {
			UnprocessableEntityError("isAddValue=false requires numberKey").Write(w)
			return
		}
		op = applog.OpReplace
		err = store.Replace(r.Context(), labels[0], []float64{value})
	} else {
		err = store.Append(r.Context(), labels, value)
	}
	s.writeMutation(w, r, owner, op, store, labelStrings(labels), -1, value, err)
}

// handlePutData replaces the caller's ledger in one step. Clients syncing a
// full snapshot use it instead of clearing and replaying entries.
func (s *Server) handlePutData(w http.ResponseWriter, r *http.Request) {
	var req putDataRequest
	if err := decodeJSONLimit(w, r, &req, maxSnapshotBytes); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if req.NumberValues == nil || req.GlobalThreshold == nil {
		UnprocessableEntityError("numberValues and globalThreshold are required").Write(w)
		return
	}

	snap := ledger.Snapshot{
		Entries:   make(map[core.Label][]float64, len(req.NumberValues)),
		Threshold: *req.GlobalThreshold,
	}
	for key, vals := range req.NumberValues {
		label, err := parseLabel(key)
		if err != nil {
			s.writeError(w, r, applog.OpRestore, err)
			return
		}
		if _, dup := snap.Entries[label]; dup {
			UnprocessableEntityError("number " + string(label) + " appears twice").Write(w)
			return
		}
		snap.Entries[label] = vals
	}

	owner, store, ok := s.ownerStore(w, r, applog.OpRestore)
	if !ok {
		return
	}
	err := store.Restore(r.Context(), snap)
	s.writeMutation(w, r, owner, applog.OpRestore, store, nil, -1, 0, err)
}

func (s *Server) handleEditData(w http.ResponseWriter, r *http.Request) {
	var req editDataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	if req.ClearAll {
		owner, store, ok := s.ownerStore(w, r, applog.OpReset)
		if !ok {
			return
		}
		err := store.Reset(r.Context())
		s.writeMutation(w, r, owner, applog.OpReset, store, nil, -1, 0, err)
		return
	}

	if req.NumberKey == nil || req.Index == nil {
		UnprocessableEntityError("numberKey and index are required unless clearAll is set").Write(w)
		return
	}
	label, err := parseLabel(string(*req.NumberKey))
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}
	value, err := req.Value.Float()
	if err != nil {
		s.writeError(w, r, applog.OpUpdate, err)
		return
	}

	owner, store, ok := s.ownerStore(w, r, applog.OpUpdate)
	if !ok {
		return
	}
	err = store.UpdateAt(r.Context(), label, *req.Index, value)
	s.writeMutation(w, r, owner, applog.OpUpdate, store, []string{string(label)}, *req.Index, value, err)
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	label, err := parseLabel(r.PathValue("label"))
	if err != nil {
		s.writeError(w, r, applog.OpRemove, err)
		return
	}
	owner, store, ok := s.ownerStore(w, r, applog.OpRemove)
	if !ok {
		return
	}
	err = store.RemoveLabel(r.Context(), label)
	s.writeMutation(w, r, owner, applog.OpRemove, store, []string{string(label)}, -1, 0, err)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	label, err := parseLabel(r.PathValue("label"))
	if err != nil {
		s.writeError(w, r, applog.OpRemove, err)
		return
	}
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	owner, store, ok := s.ownerStore(w, r, applog.OpRemove)
	if !ok {
		return
	}
	err = store.RemoveAt(r.Context(), label, index)
	s.writeMutation(w, r, owner, applog.OpRemove, store, []string{string(label)}, index, 0, err)
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	value, err := req.Threshold.Float()
	if err != nil {
		s.writeError(w, r, applog.OpThreshold, err)
		return
	}
	owner, store, ok := s.ownerStore(w, r, applog.OpThreshold)
	if !ok {
		return
	}
	err = store.SetThreshold(r.Context(), value)
	s.writeMutation(w, r, owner, applog.OpThreshold, store, nil, -1, value, err)
}

// handleParse runs the typing assist and reports what the current text
// would parse to. It never mutates anything.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	text, cursor := core.AutoFormat(req.Prev, req.Raw)
	resp := parseResponse{Text: text, Cursor: cursor}
	labels, err := core.ParseLabels(text)
	switch {
	case err == nil:
		resp.Labels = labelStrings(labels)
	case errors.Is(err, core.ErrNoValidLabels) && text == "":
		// Nothing typed yet.
	default:
		resp.Error = err.Error()
	}
	NewJSONResponse().Body(resp).Write(w)
}

// writeMutation answers a store mutation. A sync failure still answers 200
// because the change is committed in memory.
func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, owner, op string, store *ledger.Store, labels []string, index int, value float64, err error) {
	synced := true
	if err != nil {
		if !ledger.IsSyncError(err) {
			s.writeError(w, r, op, err)
			return
		}
		synced = false
		s.appMetrics.syncFailures.Add(1)
	}
	s.appMetrics.mutations.Add(1)
	s.structured.LogMutation(r.Context(), owner, op, labels, index, value, synced)

	resp := mutationResponse{
		Success: true,
		Synced:  synced,
		Labels:  labels,
		Data:    newDataResponse(store.Snapshot()),
	}
	if !synced {
		resp.Warning = "saved locally but could not be persisted; it will be retried on the next change"
	}
	NewJSONResponse().Body(resp).Write(w)
}

