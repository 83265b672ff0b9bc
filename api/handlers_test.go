/*
handlers_test.go - HTTP tests for the conference API

Tests for:
- Partner header and tenancy
- Full lifecycle over HTTP (create, start, scan, complete, confirm, finalize)
- Error to status mapping
- XLSX export
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/stock-conference/conference"
	"github.com/warp/stock-conference/report"
	"github.com/warp/stock-conference/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	router  http.Handler
	store   *sqlite.Store
	partner string
}

// newTestServer loads the corner-shop scenario into an in-memory database.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, LoadScenario(context.Background(), store, "corner-shop"))

	engine := conference.NewEngine(store, store, store, conference.WithRetry(3, time.Millisecond))
	h := NewHandler(engine, store, nil)

	return &testServer{
		t:       t,
		router:  NewRouter(h, RouterOptions{}),
		store:   store,
		partner: string(DemoPartner),
	}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.partner != "" {
		req.Header.Set(PartnerHeader, s.partner)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// started opens and starts a conference at location 1.
func (s *testServer) started() ConferenceDTO {
	s.t.Helper()

	rec := s.do(http.MethodPost, "/api/conferences", CreateConferenceRequest{LocationID: 1, ResponsibleOperatorID: "op-1"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ConferenceDTO](s.t, rec)

	rec = s.do(http.MethodPost, "/api/conferences/"+created.ID+"/start", nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[ConferenceDTO](s.t, rec)
}

func (s *testServer) scan(id, code string, n int) *httptest.ResponseRecorder {
	s.t.Helper()
	var rec *httptest.ResponseRecorder
	for i := 0; i < n; i++ {
		rec = s.do(http.MethodPost, "/api/conferences/"+id+"/scans", ScanRequest{Code: code})
	}
	return rec
}

// =============================================================================
// TENANCY
// =============================================================================

func TestAPI_RequiresPartnerHeader(t *testing.T) {
	s := newTestServer(t)
	s.partner = ""

	rec := s.do(http.MethodGet, "/api/conferences", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Error, PartnerHeader)
}

func TestAPI_OtherPartnerSeesNotFound(t *testing.T) {
	// GIVEN: a conference of the demo partner
	s := newTestServer(t)
	conf := s.started()

	// WHEN: another partner reads or scans it
	s.partner = "partner-other"
	get := s.do(http.MethodGet, "/api/conferences/"+conf.ID, nil)
	scan := s.scan(conf.ID, "10-101", 1)
	list := s.do(http.MethodGet, "/api/conferences", nil)

	// THEN: it does not exist for them
	assert.Equal(t, http.StatusNotFound, get.Code)
	assert.Equal(t, http.StatusNotFound, scan.Code)
	assert.Empty(t, decodeBody[[]ConferenceDTO](t, list))

	// AND: nothing was counted
	s.partner = string(DemoPartner)
	d := decodeBody[DetailDTO](t, s.do(http.MethodGet, "/api/conferences/"+conf.ID, nil))
	assert.Empty(t, d.Items)
}

func TestAPI_CreateForForeignLocation(t *testing.T) {
	s := newTestServer(t)
	s.partner = "partner-other"

	rec := s.do(http.MethodPost, "/api/conferences", CreateConferenceRequest{LocationID: 1, ResponsibleOperatorID: "op-1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_FullLifecycle(t *testing.T) {
	// GIVEN: a started conference at the corner shop
	s := newTestServer(t)
	conf := s.started()
	assert.Equal(t, string(conference.StatusInProgress), conf.Status)
	assert.Equal(t, []int64{101, 102, 111, 121, 131}, conf.SnapshotSKUs)

	// WHEN: coffee 250g is counted 13 times (system 12) and 1kg 4 times
	rec := s.scan(conf.ID, "10-101", 13)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decodeBody[ItemDTO](t, rec)
	assert.Equal(t, 13, item.CountedQuantity)
	assert.Equal(t, 12, item.SystemQuantity)
	assert.Equal(t, 1, item.Difference)
	s.scan(conf.ID, "010-102", 4)

	// THEN: completion reports the three unscanned SKUs without changing state
	rec = s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/completion", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completion := decodeBody[CompletionDTO](t, rec)
	assert.Equal(t, string(conference.OutcomePendingConfirmation), completion.Outcome)
	require.Len(t, completion.Unscanned, 3)
	assert.Equal(t, int64(111), completion.Unscanned[0].SKUID)
	assert.Equal(t, "Green Tea", completion.Unscanned[0].ProductName)
	assert.Equal(t, string(conference.StatusInProgress), completion.Conference.Status)

	// WHEN: the operator confirms
	rec = s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/completion/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(conference.StatusCompleted), decodeBody[ConferenceDTO](t, rec).Status)

	// THEN: scanning is closed
	rec = s.scan(conf.ID, "10-101", 1)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: finalized
	rec = s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/finalize", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fin := decodeBody[FinalizeDTO](t, rec)

	// THEN: +1 on 101 and the three zeroed SKUs reached the ledger
	assert.Equal(t, 4, fin.ProcessedCount)
	assert.Empty(t, fin.SkippedSKUIDs)
	assert.Equal(t, string(conference.StatusFinalized), fin.Conference.Status)
	assert.NotNil(t, fin.Conference.CompletedAt)

	qty, err := s.store.CurrentQuantity(context.Background(), 1, 101)
	require.NoError(t, err)
	assert.Equal(t, 13, qty)
	qty, err = s.store.CurrentQuantity(context.Background(), 1, 111)
	require.NoError(t, err)
	assert.Equal(t, 0, qty)

	// AND: a second finalize is refused
	rec = s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/finalize", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// AND: the detail shows everything adjusted
	d := decodeBody[DetailDTO](t, s.do(http.MethodGet, "/api/conferences/"+conf.ID, nil))
	assert.Len(t, d.Items, 5)
	assert.Zero(t, d.Summary.PendingAdjustments)
	assert.Equal(t, 1, d.Summary.SurplusItems)
	assert.Equal(t, 3, d.Summary.ShortageItems)
	assert.Equal(t, 1, d.Summary.MatchedItems)
}

func TestAPI_CompletionWhenEverythingMatches(t *testing.T) {
	s := newTestServer(t)
	conf := s.started()
	for code, n := range map[string]int{"10-101": 12, "10-102": 4, "11-111": 20, "12-121": 30, "13-131": 6} {
		s.scan(conf.ID, code, n)
	}

	rec := s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/completion", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[CompletionDTO](t, rec)
	assert.Equal(t, string(conference.OutcomeCompleted), c.Outcome)
	assert.Equal(t, string(conference.StatusCompleted), c.Conference.Status)
	assert.Empty(t, c.Unscanned)
}

func TestAPI_OpenConferenceConflict(t *testing.T) {
	s := newTestServer(t)
	s.started()

	rec := s.do(http.MethodPost, "/api/conferences", CreateConferenceRequest{LocationID: 1, ResponsibleOperatorID: "op-2"})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_DiscardAndList(t *testing.T) {
	s := newTestServer(t)
	conf := s.started()

	rec := s.do(http.MethodGet, "/api/conferences?location_id=1&status=em_andamento,pendente", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ConferenceDTO](t, rec), 1)

	rec = s.do(http.MethodDelete, "/api/conferences/"+conf.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/conferences/"+conf.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/conferences?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/conferences?location_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestAPI_ScanErrors(t *testing.T) {
	s := newTestServer(t)
	conf := s.started()

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed code", ScanRequest{Code: "abc-1"}, http.StatusBadRequest},
		{"unknown sku", ScanRequest{Code: "10-999"}, http.StatusUnprocessableEntity},
		{"product mismatch", ScanRequest{Code: "11-101"}, http.StatusUnprocessableEntity},
		{"missing code", ScanRequest{}, http.StatusBadRequest},
		{"not json", "nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/conferences/"+conf.ID+"/scans", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	d := decodeBody[DetailDTO](t, s.do(http.MethodGet, "/api/conferences/"+conf.ID, nil))
	assert.Empty(t, d.Items)
}

func TestAPI_ValidationFields(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/conferences", CreateConferenceRequest{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "required", resp.Fields["LocationID"])
	assert.Equal(t, "required", resp.Fields["ResponsibleOperatorID"])
}

func TestAPI_UnknownConference(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/conferences/missing/start", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&conference.CodeFormatError{Code: "x"}, http.StatusBadRequest},
		{&conference.SKUNotFoundError{SKUID: 1}, http.StatusUnprocessableEntity},
		{&conference.InvalidStateError{Status: conference.StatusPending}, http.StatusConflict},
		{conference.ErrOpenConferenceExists, http.StatusConflict},
		{conference.ErrConferenceNotFound, http.StatusNotFound},
		{conference.ErrLocationNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", conference.ErrConcurrentModification), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteEngineError_RetryAfter(t *testing.T) {
	h := NewHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conferences/x/scans", nil)

	h.writeEngineError(rec, req, "Failed to register scan", conference.ErrConcurrentModification)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

// =============================================================================
// EXPORT / HEALTH
// =============================================================================

func TestAPI_ExportXLSX(t *testing.T) {
	s := newTestServer(t)
	conf := s.started()
	s.scan(conf.ID, "10-101", 2)

	rec := s.do(http.MethodGet, "/api/conferences/"+conf.ID+"/export.xlsx", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), report.Filename(conference.ConferenceID(conf.ID)))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(report.ItemsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "101", rows[1][0])
}

func TestAPI_Health(t *testing.T) {
	s := newTestServer(t)
	s.partner = ""

	rec := s.do(http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
