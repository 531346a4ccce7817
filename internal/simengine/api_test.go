package simengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bandsim/internal/model"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	f.svc.RegisterRoutes(mux, Options{
		Symbols:   []string{"BTCUSDT", "ETHUSDT", "DOGEUSDT"},
		Intervals: []string{"1m", "5m", "15m", "1h", "1d"},
		Lookbacks: []int{5, 10, 20, 50, 100, 150, 200},
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func createViaAPI(t *testing.T, base, body string) string {
	t.Helper()
	var v SessionView
	if code := do(t, http.MethodPost, base+"/api/sessions", body, &v); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	return v.State.ID
}

func TestAPI_CreateAppliesDefaults(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)

	var v SessionView
	code := do(t, http.MethodPost, srv.URL+"/api/sessions", `{"symbol":"dogeusdt","interval":"5m"}`, &v)
	if code != http.StatusCreated {
		t.Fatalf("status %d", code)
	}
	if v.Symbol != "DOGEUSDT" || v.Interval != "5m" || v.Lookback != 100 || v.Window != 20 {
		t.Errorf("unexpected market %+v", v.Market)
	}

	// empty body is allowed
	if id := createViaAPI(t, srv.URL, ""); id == "" {
		t.Error("expected an id for a default session")
	}
}

func TestAPI_CreateRejectsUnsupportedMarket(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)

	cases := map[string]string{
		"symbol":   `{"symbol":"XRPUSDT"}`,
		"interval": `{"interval":"2m"}`,
		"lookback": `{"lookback":7}`,
		"unknown":  `{"colour":"red"}`,
	}
	for name, body := range cases {
		var out struct {
			Errors []ValidationError `json:"errors"`
		}
		code := do(t, http.MethodPost, srv.URL+"/api/sessions", body, &out)
		if code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, code)
			continue
		}
		if len(out.Errors) == 0 {
			t.Errorf("%s: expected validation errors", name)
		}
	}
	if n := len(f.svc.Sessions()); n != 0 {
		t.Errorf("no session should be created, got %d", n)
	}
}

func TestAPI_EvaluateAndFinalize(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)
	id := createViaAPI(t, srv.URL, `{}`)
	base := srv.URL + "/api/sessions/" + id

	f.src.set(repeat(100, 19, 80)...)
	var res PassResult
	if code := do(t, http.MethodPost, base+"/evaluate", `{"buy_trigger":85}`, &res); code != http.StatusOK {
		t.Fatalf("evaluate: status %d", code)
	}
	if res.Kind != "pass" || res.State.Position.State != model.Long || res.Quote != "USDT" {
		t.Fatalf("unexpected pass %+v", res.State)
	}

	f.src.set(repeat(100, 19, 120)...)
	do(t, http.MethodPost, base+"/evaluate", `{"sell_trigger":110}`, &res)
	if res.State.RealizedPnL != 25 {
		t.Fatalf("realized: got %v", res.State.RealizedPnL)
	}

	var fin struct {
		Finalized bool               `json:"finalized"`
		Trade     *model.TradeRecord `json:"trade"`
	}
	if code := do(t, http.MethodPost, base+"/finalize", "", &fin); code != http.StatusOK {
		t.Fatalf("finalize: status %d", code)
	}
	if !fin.Finalized || fin.Trade == nil || fin.Trade.ProfitLoss != 25 {
		t.Fatalf("unexpected finalize %+v", fin)
	}

	// second finalize has nothing to write
	do(t, http.MethodPost, base+"/finalize", "", &fin)
	if fin.Finalized || fin.Trade != nil {
		t.Errorf("expected no-op finalize, got %+v", fin)
	}
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)
	id := createViaAPI(t, srv.URL, `{}`)
	base := srv.URL + "/api/sessions/" + id
	f.src.set(repeat(100, 20)...)

	if code := do(t, http.MethodPost, base+"/evaluate", `{"buy_trigger":-5}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("negative trigger: expected 422, got %d", code)
	}
	if code := do(t, http.MethodPost, base+"/evaluate", `{"buy_trigger":"cheap"}`, nil); code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/api/sessions/missing/evaluate", `{}`, nil); code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/sessions/missing", "", nil); code != http.StatusNotFound {
		t.Errorf("unknown session get: expected 404, got %d", code)
	}

	f.src.raw = []model.RawCandle{{"x"}}
	if code := do(t, http.MethodPost, base+"/evaluate", `{}`, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("malformed candles: expected 422, got %d", code)
	}

	f.src.err = errors.New("upstream 500")
	if code := do(t, http.MethodPost, base+"/evaluate", `{}`, nil); code != http.StatusBadGateway {
		t.Errorf("source failure: expected 502, got %d", code)
	}

	var v SessionView
	do(t, http.MethodGet, base, "", &v)
	if len(v.State.Orders) != 0 || v.State.Position.State != model.Flat {
		t.Errorf("failed passes must not change the session: %+v", v.State)
	}
}

func TestAPI_FinalizeLedgerFailure(t *testing.T) {
	f := newFixture(t, &failingLedger{})
	srv := newTestServer(t, f)
	id := createViaAPI(t, srv.URL, `{}`)
	base := srv.URL + "/api/sessions/" + id

	f.src.set(repeat(100, 19, 80)...)
	do(t, http.MethodPost, base+"/evaluate", `{"buy_trigger":85}`, nil)

	if code := do(t, http.MethodPost, base+"/finalize", "", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	var v SessionView
	do(t, http.MethodGet, base, "", &v)
	if len(v.State.Orders) != 1 {
		t.Errorf("orders must survive a failed finalize, got %d", len(v.State.Orders))
	}
}

func TestAPI_TradesPagination(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.ledger.Append(ctx, model.TradeRecord{BuyPrice: float64(i), ProfitLoss: -float64(i)})
	}

	var page struct {
		Total  int                 `json:"total"`
		Offset int                 `json:"offset"`
		Trades []model.TradeRecord `json:"trades"`
	}
	if code := do(t, http.MethodGet, srv.URL+"/api/trades?limit=2&offset=1", "", &page); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if page.Total != 5 || len(page.Trades) != 2 || page.Trades[0].ID != 2 || page.Trades[1].ID != 3 {
		t.Errorf("unexpected page %+v", page)
	}

	do(t, http.MethodGet, srv.URL+"/api/trades?offset=10", "", &page)
	if page.Total != 5 || len(page.Trades) != 0 {
		t.Errorf("offset past end: %+v", page)
	}

	for _, q := range []string{"limit=abc", "limit=9000", "offset=-1"} {
		if code := do(t, http.MethodGet, srv.URL+"/api/trades?"+q, "", nil); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, code)
		}
	}
}

func TestAPI_ListAndDeleteSessions(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)
	a := createViaAPI(t, srv.URL, `{}`)
	createViaAPI(t, srv.URL, `{"symbol":"ETHUSDT"}`)

	var list []SessionView
	do(t, http.MethodGet, srv.URL+"/api/sessions", "", &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}

	if code := do(t, http.MethodDelete, srv.URL+"/api/sessions/"+a, "", nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if code := do(t, http.MethodDelete, srv.URL+"/api/sessions/"+a, "", nil); code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", code)
	}
}

func TestAPI_Options(t *testing.T) {
	f := newFixture(t, nil)
	srv := newTestServer(t, f)

	var opts Options
	if code := do(t, http.MethodGet, srv.URL+"/api/options", "", &opts); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(opts.Symbols) != 3 || opts.Defaults.Symbol != "BTCUSDT" || opts.Defaults.Lookback != 100 {
		t.Errorf("unexpected options %+v", opts)
	}
}
