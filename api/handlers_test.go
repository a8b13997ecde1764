/*
handlers_test.go - HTTP tests for the reconciliation API

Tests drive the router end to end with httptest over an in-memory store:
- Sessions, proposals and the projected balance
- Confirm / Decline / Unconfirm and their error statuses
- Dataset change events
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/concil-engine/concil/store"
)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h, err := NewHandler(store.NewTxMemory(), logger, "tester", "eur")
	require.NoError(t, err)
	return &testServer{t: t, handler: h, router: NewRouter(h)}
}

func (ts *testServer) do(method, path string, body any, out any) int {
	ts.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if out != nil && rec.Body.Len() > 0 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (ts *testServer) loadScenario(name string) SessionDTO {
	ts.t.Helper()
	var session SessionDTO
	code := ts.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{Name: name}, &session)
	require.Equal(ts.t, http.StatusCreated, code)
	return session
}

func parentOf(proposals []ProposalDTO, member string) string {
	for _, p := range proposals {
		if p.Item.Member == member {
			return p.Parent
		}
	}
	return ""
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func TestConfirmAndUnconfirm_RoundTrip(t *testing.T) {
	// GIVEN: The round-trip scenario, the line proposed under the entry
	// WHEN: Confirming the pair, then unconfirming it
	// THEN: A group dated on the line's value date appears, then disappears

	ts := newTestServer(t)
	session := ts.loadScenario("round-trip")
	require.Equal(t, "E:101", parentOf(session.Proposals, "B:1010"))
	base := "/api/sessions/" + session.ID

	var state StateResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/state", SelectionRequest{Selection: []string{"E:101", "B:1010"}}, &state))
	assert.Equal(t, "proposed", state.State)
	assert.True(t, state.Totals.Balanced)

	var confirmed ConfirmResponse
	code := ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:101", "B:1010"}}, &confirmed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2025-03-12", confirmed.Group.EffectiveDate)
	assert.Equal(t, "tester", confirmed.Group.CreatedBy)
	assert.Equal(t, []string{"E:101", "B:1010"}, confirmed.Group.Members)
	assert.Equal(t, "0.00", confirmed.Balance.BankBalance)

	var groups []GroupDTO
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/groups", nil, &groups))
	require.Len(t, groups, 1)

	var unconfirmed UnconfirmResponse
	code = ts.do(http.MethodPost, base+"/unconfirm", SelectionRequest{Selection: []string{"B:1010"}}, &unconfirmed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, confirmed.Group.ID, unconfirmed.GroupID)
	assert.Equal(t, "E:101", parentOf(unconfirmed.Proposals, "B:1010"))

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/groups", nil, &groups))
	assert.Empty(t, groups)
}

func TestConfirm_ImbalancedSelection(t *testing.T) {
	// GIVEN: A session with an entry of 100 and a line of -90
	// WHEN: Confirming without, then with, the override
	// THEN: 422 with the totals, then 200

	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &session))
	base := "/api/sessions/" + session.ID

	code := ts.do(http.MethodPost, base+"/items", AddItemsRequest{
		Entries: []EntryDTO{{ID: 1, Credit: "100", Date: "2025-03-01"}},
		Lines:   []LineDTO{{ID: 10, Amount: "-90", ValueDate: "2025-03-02"}},
	}, nil)
	require.Equal(t, http.StatusOK, code)

	var errResp struct {
		Error   string    `json:"error"`
		Code    string    `json:"code"`
		Details TotalsDTO `json:"details"`
	}
	code = ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:1", "B:10"}}, &errResp)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "imbalanced_selection", errResp.Code)
	assert.Equal(t, "90.00", errResp.Details.Debit)
	assert.Equal(t, "100.00", errResp.Details.Credit)
	assert.Equal(t, "10.00", errResp.Details.Difference)

	var confirmed ConfirmResponse
	code = ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:1", "B:10"}, AllowImbalance: true}, &confirmed)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, confirmed.Totals.Balanced)
}

func TestConfirm_ErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512", AccountBalance: "0"}, &session))
	base := "/api/sessions/" + session.ID

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/items", AddItemsRequest{
		Entries: []EntryDTO{
			{ID: 1, Credit: "10"}, {ID: 2, Credit: "20"}, {ID: 3, Debit: "10"}, {ID: 4, Debit: "20"},
		},
	}, nil))
	manual := "2025-03-01"
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:1", "E:3"}, ManualDate: manual}, nil))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:2", "E:4"}, ManualDate: manual}, nil))

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"conflicting groups", "/confirm", ConfirmRequest{Selection: []string{"E:1", "E:2"}, AllowImbalance: true}, http.StatusConflict},
		{"not displayed", "/confirm", ConfirmRequest{Selection: []string{"E:99"}}, http.StatusBadRequest},
		{"bad reference", "/confirm", ConfirmRequest{Selection: []string{"X"}}, http.StatusBadRequest},
		{"empty selection", "/confirm", ConfirmRequest{}, http.StatusBadRequest},
		{"bad manual date", "/confirm", ConfirmRequest{Selection: []string{"E:1"}, ManualDate: "01/03/2025"}, http.StatusBadRequest},
		{"unconfirm two groups", "/unconfirm", SelectionRequest{Selection: []string{"E:1", "E:2"}}, http.StatusConflict},
		{"decline root", "/decline", SelectionRequest{Selection: []string{"E:1"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ts.do(http.MethodPost, base+tt.path, tt.body, nil))
		})
	}
}

func TestConfirm_NoValidDate(t *testing.T) {
	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &session))
	base := "/api/sessions/" + session.ID
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/items", AddItemsRequest{
		Entries: []EntryDTO{{ID: 1, Credit: "10"}, {ID: 2, Debit: "10"}},
	}, nil))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/confirm", ConfirmRequest{Selection: []string{"E:1", "E:2"}}, &errResp))
	assert.Equal(t, "no_valid_date", errResp.Code)
}

func TestDecline_KeepsTheLineStandalone(t *testing.T) {
	ts := newTestServer(t)
	session := ts.loadScenario("round-trip")
	base := "/api/sessions/" + session.ID

	var resp TransitionResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/decline", SelectionRequest{Selection: []string{"B:1010"}}, &resp))
	assert.Equal(t, "", parentOf(resp.Proposals, "B:1010"))

	var proposals []ProposalDTO
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, base+"/proposals?recompute=true", nil, &proposals))
	assert.Equal(t, "", parentOf(proposals, "B:1010"))
}

// =============================================================================
// SESSIONS, BALANCE, EVENTS
// =============================================================================

func TestSession_NotFoundAndValidation(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/missing", nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/sessions/missing", nil, nil))

	var errResp struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	code := ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Currency: "EURO"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_failed", errResp.Code)
	assert.Equal(t, "required", errResp.Details["CreateSessionRequest.Account"])
	assert.Equal(t, "len", errResp.Details["CreateSessionRequest.Currency"])
}

func TestSession_CloseRemovesIt(t *testing.T) {
	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512", Currency: "usd"}, &session))
	assert.Equal(t, "USD", session.Currency)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/sessions/"+session.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/"+session.ID, nil, nil))
}

func TestBalance_AsOf(t *testing.T) {
	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512", AccountBalance: "100", Currency: "USD"}, &session))
	base := "/api/sessions/" + session.ID
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/items", AddItemsRequest{
		Entries: []EntryDTO{{ID: 1, Debit: "30", Date: "2025-03-01"}, {ID: 2, Debit: "500", Date: "2025-04-01"}},
	}, nil))

	var bal BalanceDTO
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, base+"/balance", nil, &bal))
	assert.Equal(t, "-430.00", bal.BankBalance)
	assert.Equal(t, "debit", bal.Side)
	assert.Equal(t, "$430.00", bal.Display)

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, base+"/balance?as_of=2025-03-31", nil, &bal))
	assert.Equal(t, "70.00", bal.BankBalance)
	assert.Equal(t, "2025-03-31", bal.AsOf)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, base+"/balance?as_of=soon", nil, nil))
}

func TestEvents_CreatedUpdatedDeleted(t *testing.T) {
	// GIVEN: A session showing one entry of 100
	// WHEN: A matching line is created, the entry updated, then deleted
	// THEN: The display and balance follow every event

	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &session))
	base := "/api/sessions/" + session.ID
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/items", AddItemsRequest{
		Entries: []EntryDTO{{ID: 1, Credit: "100"}},
	}, nil))

	var resp TransitionResponse
	code := ts.do(http.MethodPost, base+"/events", EventRequest{Type: "created", Line: &LineDTO{ID: 10, Amount: "-100"}}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "E:1", parentOf(resp.Proposals, "B:10"))
	assert.Equal(t, "0.00", resp.Balance.BankBalance)

	code = ts.do(http.MethodPost, base+"/events", EventRequest{Type: "updated", Entry: &EntryDTO{ID: 1, Credit: "80"}}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", parentOf(resp.Proposals, "B:10"))
	assert.Equal(t, "-20.00", resp.Balance.BankBalance)
	assert.Equal(t, "E:1", resp.Proposals[0].Item.Member, "an updated item keeps its position")

	code = ts.do(http.MethodPost, base+"/events", EventRequest{Type: "deleted", Member: "E:1"}, &resp)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Proposals, 1)
	assert.Equal(t, "-100.00", resp.Balance.BankBalance)
}

func TestEvents_Validation(t *testing.T) {
	ts := newTestServer(t)
	var session SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &session))
	base := "/api/sessions/" + session.ID

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/events", EventRequest{Type: "renamed"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/events", EventRequest{Type: "created"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/events", EventRequest{Type: "deleted"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/events", EventRequest{Type: "group_changed"}, nil))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/events", EventRequest{Type: "reloaded"}, nil))
}

func TestConfirm_OtherSessionsFollowTheGroup(t *testing.T) {
	// GIVEN: Two sessions displaying entry E:1 (credit 100) and line B:10 (-90)
	// WHEN: The first session confirms them, then unconfirms them
	// THEN: The second session's balance, proposals and state follow each change

	ts := newTestServer(t)
	items := AddItemsRequest{
		Entries: []EntryDTO{{ID: 1, Credit: "100", Date: "2025-03-01"}},
		Lines:   []LineDTO{{ID: 10, Amount: "-90", ValueDate: "2025-03-02"}},
	}
	var a, b SessionDTO
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &a))
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/sessions", CreateSessionRequest{Account: "512"}, &b))
	baseA, baseB := "/api/sessions/"+a.ID, "/api/sessions/"+b.ID
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseA+"/items", items, nil))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseB+"/items", items, nil))

	var bal BalanceDTO
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, baseB+"/balance", nil, &bal))
	require.Equal(t, "10.00", bal.BankBalance)

	var confirmed ConfirmResponse
	selection := []string{"E:1", "B:10"}
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseA+"/confirm", ConfirmRequest{Selection: selection, AllowImbalance: true}, &confirmed))

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, baseB+"/balance", nil, &bal))
	assert.Equal(t, "0.00", bal.BankBalance)

	var proposals []ProposalDTO
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, baseB+"/proposals", nil, &proposals))
	require.Len(t, proposals, 2)
	for _, p := range proposals {
		assert.Equal(t, confirmed.Group.ID, p.GroupID, p.Item.Member)
	}

	var state StateResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseB+"/state", SelectionRequest{Selection: selection}, &state))
	assert.Equal(t, "grouped", state.State)

	var again ConfirmResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseB+"/confirm", ConfirmRequest{Selection: selection, AllowImbalance: true}, &again))
	assert.Equal(t, confirmed.Group.ID, again.Group.ID)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, baseA+"/unconfirm", SelectionRequest{Selection: selection}, nil))

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, baseB+"/balance", nil, &bal))
	assert.Equal(t, "10.00", bal.BankBalance)
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, baseB+"/proposals", nil, &proposals))
	for _, p := range proposals {
		assert.Zero(t, p.GroupID, p.Item.Member)
	}
}
