package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/discovery"
	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/logger"
	"github.com/kharcha/reconciler/internal/matching"
	"github.com/kharcha/reconciler/internal/reconciliation"
	"github.com/kharcha/reconciler/internal/repository"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := bankdir.Default()
	accounts := repository.NewAccountRepo(db)
	recurring := repository.NewRecurringRepo(db)
	txns := repository.NewTransactionRepo(db)
	messages := repository.NewMessageRepo(db)
	log := logger.Nop()

	ex := extract.New(dir)
	m := matching.New(dir)
	coord := ingestion.NewCoordinator(ingestion.Deps{
		Extractor:    ex,
		Matcher:      m,
		Correlator:   reconciliation.NewCorrelator(reconciliation.DefaultTolerance, reconciliation.DefaultWindow),
		Transactions: txns,
		Accounts:     accounts,
		Recurring:    recurring,
	}, ingestion.Options{}, log)

	return NewRouter(Deps{
		Directory:    dir,
		Extractor:    ex,
		Matcher:      m,
		Scanner:      discovery.New(dir, 2, log),
		Ingestion:    ingestion.NewService(messages, coord, log),
		Accounts:     accounts,
		Recurring:    recurring,
		Transactions: txns,
		Messages:     messages,
		Banks:        repository.NewBankRepo(db),
	}, log)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func createHDFCAccount(t *testing.T, h http.Handler) domain.Account {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/accounts",
		`{"name":"HDFC Savings","type":"BANK","bank_code":"hdfc","account_number_last4":"1234","linked_sender_ids":["HDFCBK"],"balance":"10000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", rec.Code, rec.Body.String())
	}
	var acc domain.Account
	decode(t, rec, &acc)
	return acc
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(t), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestAccounts(t *testing.T) {
	h := newTestRouter(t)

	acc := createHDFCAccount(t, h)
	if acc.ID == "" || acc.BankCode == nil || *acc.BankCode != "HDFC" {
		t.Errorf("account = %+v", acc)
	}
	if acc.Color == "" {
		t.Error("colour not filled from the bank directory")
	}
	if !acc.IsLinked {
		t.Error("IsLinked defaults to true")
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing name", `{"type":"BANK"}`, http.StatusBadRequest},
		{"bad type", `{"name":"x","type":"WALLET"}`, http.StatusBadRequest},
		{"bad last4", `{"name":"x","account_number_last4":"12"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodPost, "/api/v1/accounts", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/accounts/"+acc.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("get account = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/accounts/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing account = %d, want 404", rec.Code)
	}
}

func TestListAccountsByBank(t *testing.T) {
	h := newTestRouter(t)
	hdfc := createHDFCAccount(t, h)
	if rec := do(t, h, http.MethodPost, "/api/v1/accounts",
		`{"name":"ICICI Card","type":"CREDIT_CARD","bank_code":"icici","account_number_last4":"5566"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create icici: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/accounts",
		`{"name":"Old HDFC","type":"BANK","bank_code":"HDFC","is_linked":false}`); rec.Code != http.StatusCreated {
		t.Fatalf("create unlinked: %d %s", rec.Code, rec.Body.String())
	}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"no filter", "", 3},
		{"hdfc linked only", "?bank_code=HDFC", 1},
		{"case insensitive", "?bank_code=icici", 1},
		{"unknown bank", "?bank_code=SBI", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/accounts"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body struct {
				Accounts []domain.Account `json:"accounts"`
			}
			decode(t, rec, &body)
			if body.Accounts == nil {
				t.Fatal("accounts is null, want a list")
			}
			if len(body.Accounts) != tt.want {
				t.Errorf("got %d accounts, want %d", len(body.Accounts), tt.want)
			}
		})
	}

	rec := do(t, h, http.MethodGet, "/api/v1/accounts?bank_code=hdfc", "")
	var body struct {
		Accounts []domain.Account `json:"accounts"`
	}
	decode(t, rec, &body)
	if len(body.Accounts) != 1 || body.Accounts[0].ID != hdfc.ID {
		t.Errorf("accounts = %+v, want only %s", body.Accounts, hdfc.ID)
	}
}

func TestCreateRecurring(t *testing.T) {
	h := newTestRouter(t)
	acc := createHDFCAccount(t, h)

	rec := do(t, h, http.MethodPost, "/api/v1/recurring",
		`{"account_id":"`+acc.ID+`","name":"Netflix","amount":"649","next_due_date":"2024-03-05"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create recurring: %d %s", rec.Code, rec.Body.String())
	}
	var tmpl domain.RecurringTemplate
	decode(t, rec, &tmpl)
	if tmpl.Type != domain.RecurringExpense || !tmpl.IsActive {
		t.Errorf("template = %+v", tmpl)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/recurring",
		`{"account_id":"missing","name":"Rent","amount":"1000","next_due_date":"2024-03-05"}`); rec.Code != http.StatusConflict {
		t.Errorf("unknown account = %d, want 409 (%s)", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/recurring",
		`{"account_id":"`+acc.ID+`","name":"Rent","amount":"1000","next_due_date":"soon"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", rec.Code)
	}
}

func TestIngestMessage(t *testing.T) {
	h := newTestRouter(t)
	acc := createHDFCAccount(t, h)

	body := `{"sender_id":"VM-HDFCBK","body":"Rs.500 debited from A/C XX1234 to SWIGGY","timestamp":"2024-03-10T09:00:00Z"}`

	rec := do(t, h, http.MethodPost, "/api/v1/messages", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	var d ingestion.Decision
	decode(t, rec, &d)
	if d.Outcome != ingestion.OutcomeInserted {
		t.Fatalf("Outcome = %s (%s)", d.Outcome, d.Reason)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/messages", body)
	decode(t, rec, &d)
	if d.Outcome != ingestion.OutcomeDuplicate {
		t.Errorf("replay Outcome = %s, want duplicate", d.Outcome)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/accounts/"+acc.ID, "")
	var got domain.Account
	decode(t, rec, &got)
	if got.Balance.String() != "9500" {
		t.Errorf("balance = %s, want 9500", got.Balance)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transactions?account_id="+acc.ID+"&is_debit=true", "")
	var list struct {
		Transactions []domain.Transaction `json:"transactions"`
		Total        int                  `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || len(list.Transactions) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/transactions/"+list.Transactions[0].ID, ""); rec.Code != http.StatusOK {
		t.Errorf("get transaction = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transactions/summary", "")
	var sum repository.Summary
	decode(t, rec, &sum)
	if sum.Total != 1 || sum.Debits != 1 {
		t.Errorf("summary = %+v", sum)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/messages", `{"body":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing sender = %d, want 400", rec.Code)
	}
}

func TestIngestBatch(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/messages/batch", `{"messages":[
		{"sender_id":"VM-HDFCBK","body":"Rs 300 debited from a/c XX1234 to UBER","timestamp":"2024-03-10T12:00:00Z"},
		{"sender_id":"VM-HDFCBK","body":"Your OTP is 998877","timestamp":"2024-03-10T11:00:00Z"}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch: %d %s", rec.Code, rec.Body.String())
	}
	var res ingestion.BatchResult
	decode(t, rec, &res)
	if res.Processed != 2 || res.Inserted != 1 || res.NotTransactions != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.Decisions != nil {
		t.Error("decisions returned without verbose")
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/messages/batch", `{"messages":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch = %d, want 400", rec.Code)
	}
}

func TestParseAndMatch(t *testing.T) {
	h := newTestRouter(t)
	createHDFCAccount(t, h)

	rec := do(t, h, http.MethodPost, "/api/v1/parse", `{"sender_id":"VM-HDFCBK","body":"123456 is your OTP for txn of Rs 500"}`)
	var pr parseResponse
	decode(t, rec, &pr)
	if pr.IsTransaction || pr.RejectReason != string(extract.RejectExcluded) {
		t.Errorf("parse = %+v", pr)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/parse", `{"sender_id":"VM-HDFCBK","body":"Rs.500 debited from A/C XX1234 to SWIGGY"}`)
	decode(t, rec, &pr)
	if !pr.IsTransaction || pr.Category != "food" {
		t.Errorf("parse = %+v", pr)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/accounts/match", `{"sender_id":"VM-HDFCBK","body":"Rs.500 debited from A/C XX1234 to SWIGGY"}`)
	var mr struct {
		Match domain.MatchResult `json:"match"`
	}
	decode(t, rec, &mr)
	if mr.Match.Confidence != domain.ConfidenceHigh || mr.Match.MatchedAccountID == nil {
		t.Errorf("match = %+v", mr.Match)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/accounts/match", `{"sender_id":"X","body":"hello"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("non-transaction match = %d, want 422", rec.Code)
	}
}

func TestImportCorpus(t *testing.T) {
	h := newTestRouter(t)
	corpus := `[{"sender_id":"VM-HDFCBK","body":"Rs.500 debited from A/C XX1234 to SWIGGY","timestamp":"2024-01-01T08:00:00Z"}]`

	upload := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "inbox.json")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(corpus))
		mw.WriteField("format", "json")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := upload()
	if rec.Code != http.StatusOK {
		t.Fatalf("import: %d %s", rec.Code, rec.Body.String())
	}
	var res ingestion.ImportResult
	decode(t, rec, &res)
	if res.MessagesParsed != 1 || res.Batch == nil || res.Batch.Inserted != 1 {
		t.Errorf("result = %+v", res)
	}

	decode(t, upload(), &res)
	if !res.AlreadyImported {
		t.Error("second import of the same file was not detected")
	}
}

func TestScanDiscovery(t *testing.T) {
	h := newTestRouter(t)

	body := `{"messages":[
		{"sender_id":"VM-HDFCBK","body":"Rs.500 debited from A/C XX1234 to SWIGGY","timestamp":"2024-01-01T08:00:00Z"},
		{"sender_id":"AD-HDFCBN","body":"Rs.200 debited from A/C XX1234 to UBER","timestamp":"2024-01-02T08:00:00Z"},
		{"sender_id":"JM-ZETAPY","body":"INR 90 debited from a/c XX7777","timestamp":"2024-01-03T08:00:00Z"},
		{"sender_id":"JM-ZETAPY","body":"INR 40 debited from a/c XX7777","timestamp":"2024-01-04T08:00:00Z"},
		{"sender_id":"VM-FRIEND","body":"see you at 5","timestamp":"2024-01-05T08:00:00Z"}
	]}`
	rec := do(t, h, http.MethodPost, "/api/v1/discovery/scan", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", got)
	}

	var snaps []domain.DiscoveryResult
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var s domain.DiscoveryResult
		if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		snaps = append(snaps, s)
	}
	if len(snaps) < 2 {
		t.Fatalf("got %d snapshots, want progressive updates", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if !last.IsComplete || last.ScannedCount != 5 || last.FinancialCount != 4 {
		t.Errorf("final snapshot = %+v", last)
	}
	for _, s := range snaps[:len(snaps)-1] {
		if s.IsComplete {
			t.Error("intermediate snapshot marked complete")
		}
	}

	rec = do(t, h, http.MethodGet, "/api/v1/banks", "")
	var banks struct {
		Banks []repository.StoredBank `json:"banks"`
	}
	decode(t, rec, &banks)
	if len(banks.Banks) != 2 {
		t.Fatalf("persisted %d banks, want 2: %+v", len(banks.Banks), banks.Banks)
	}
	if !banks.Banks[0].IsKnownBank || len(banks.Banks[0].SenderIDs) != 2 {
		t.Errorf("first bank = %+v", banks.Banks[0])
	}
}

func TestDirectoryAndFallbackDisabled(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/directory", "")
	var dir struct {
		Banks []bankdir.Bank `json:"banks"`
	}
	decode(t, rec, &dir)
	if len(dir.Banks) == 0 {
		t.Error("directory is empty")
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/fallback/jobs", ""); rec.Code != http.StatusNotFound {
		t.Errorf("fallback jobs = %d, want 404 when disabled", rec.Code)
	}
}
