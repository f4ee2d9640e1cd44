package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/domain"
)

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(":memory:")
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string { return &s }

func createAccount(t *testing.T, repo *AccountRepo, a domain.Account) domain.Account {
	t.Helper()
	if err := repo.Create(context.Background(), &a); err != nil {
		t.Fatalf("Create account: %v", err)
	}
	return a
}

func TestAccountRepo_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepo(newTestDB(t))

	linked := createAccount(t, repo, domain.Account{
		Name: "HDFC Savings", Type: domain.AccountBank, IsLinked: true,
		BankCode: strPtr("HDFC"), AccountNumberLast4: strPtr("1234"),
		LinkedSenderIDs: []string{"vm-hdfcbk", "HDFCBK", ""},
		Balance:         decimal.RequireFromString("1000.50"),
		CreatedAt:       t0,
	})
	createAccount(t, repo, domain.Account{Name: "Cash", Type: domain.AccountOther, CreatedAt: t0.Add(time.Hour)})

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List = %d accounts, want 2", len(all))
	}

	got, err := repo.ListLinked(ctx)
	if err != nil {
		t.Fatalf("ListLinked: %v", err)
	}
	if len(got) != 1 || got[0].ID != linked.ID {
		t.Fatalf("ListLinked = %+v", got)
	}
	a := got[0]
	if len(a.LinkedSenderIDs) != 2 || a.LinkedSenderIDs[0] != "HDFCBK" || a.LinkedSenderIDs[1] != "VM-HDFCBK" {
		t.Errorf("LinkedSenderIDs = %v", a.LinkedSenderIDs)
	}
	if !a.Balance.Equal(decimal.RequireFromString("1000.50")) || *a.AccountNumberLast4 != "1234" {
		t.Errorf("account = %+v", a)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) err = %v, want ErrNotFound", err)
	}
}

func TestTransactionRepo_InsertAppliesBalance(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepo(db)
	txns := NewTransactionRepo(db)

	acc := createAccount(t, accounts, domain.Account{Name: "A", IsLinked: true, Balance: decimal.NewFromInt(1000)})

	tx := &domain.Transaction{
		AccountID:       &acc.ID,
		Amount:          decimal.NewFromInt(250),
		IsDebit:         true,
		Category:        "food",
		ReferenceNumber: strPtr("utr123456"),
		SenderKey:       strPtr("HDFCBK"),
		OccurredAt:      t0,
	}
	if err := txns.Insert(ctx, tx, decimal.NewFromInt(-250)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if tx.ID == "" {
		t.Fatal("Insert did not assign an id")
	}

	got, err := accounts.GetByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(750)) {
		t.Errorf("Balance = %s, want 750", got.Balance)
	}

	stored, err := txns.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !stored.Amount.Equal(decimal.NewFromInt(250)) || !stored.IsDebit || *stored.ReferenceNumber != "UTR123456" {
		t.Errorf("stored = %+v", stored)
	}
	if !stored.OccurredAt.Equal(t0) {
		t.Errorf("OccurredAt = %v, want %v", stored.OccurredAt, t0)
	}
}

func TestTransactionRepo_InsertUnknownAccountIsConflict(t *testing.T) {
	txns := NewTransactionRepo(newTestDB(t))
	err := txns.Insert(context.Background(), &domain.Transaction{
		AccountID:  strPtr("ghost"),
		Amount:     decimal.NewFromInt(1),
		Category:   "x",
		OccurredAt: t0,
	}, decimal.NewFromInt(-1))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if n, _ := txns.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d after failed insert", n)
	}
}

func TestTransactionRepo_DuplicateLookups(t *testing.T) {
	ctx := context.Background()
	txns := NewTransactionRepo(newTestDB(t))

	if err := txns.Insert(ctx, &domain.Transaction{
		Amount: decimal.RequireFromString("500"), IsDebit: true, Category: "x",
		ReferenceNumber: strPtr("REF998877"), SenderKey: strPtr("HDFCBK"), OccurredAt: t0,
	}, decimal.Zero); err != nil {
		t.Fatal(err)
	}

	if ok, _ := txns.ExistsByReference(ctx, "ref998877"); !ok {
		t.Error("ExistsByReference should ignore case")
	}
	if ok, _ := txns.ExistsByReference(ctx, "REF000000"); ok {
		t.Error("unexpected reference hit")
	}

	tests := []struct {
		name   string
		sender string
		amount string
		from   time.Time
		to     time.Time
		want   bool
	}{
		{"inside window", "HDFCBK", "500.00", t0.Add(-24 * time.Hour), t0.Add(24 * time.Hour), true},
		{"other amount", "HDFCBK", "500.01", t0.Add(-24 * time.Hour), t0.Add(24 * time.Hour), false},
		{"other sender", "ICICIB", "500", t0.Add(-24 * time.Hour), t0.Add(24 * time.Hour), false},
		{"outside window", "HDFCBK", "500", t0.Add(time.Hour), t0.Add(25 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := txns.ExistsInWindow(ctx, tt.sender, decimal.RequireFromString(tt.amount), tt.from, tt.to)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ExistsInWindow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransactionRepo_RecurringInstanceAndMerge(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepo(db)
	recurring := NewRecurringRepo(db)
	txns := NewTransactionRepo(db)

	acc := createAccount(t, accounts, domain.Account{Name: "A", IsLinked: true})
	tmpl := &domain.RecurringTemplate{
		AccountID: acc.ID, Name: "Rent", Amount: decimal.NewFromInt(1000),
		Type: domain.RecurringExpense, NextDueDate: t0, IsActive: true,
	}
	if err := recurring.Create(ctx, tmpl); err != nil {
		t.Fatalf("Create template: %v", err)
	}

	existing := &domain.Transaction{
		AccountID: &acc.ID, RecurringID: &tmpl.ID, Amount: decimal.NewFromInt(1000),
		IsDebit: true, Category: "rent", MerchantName: strPtr("LANDLORD"), OccurredAt: t0,
	}
	if err := txns.Insert(ctx, existing, decimal.NewFromInt(-1000)); err != nil {
		t.Fatal(err)
	}

	if _, err := txns.FindRecurringInstance(ctx, tmpl.ID, t0.Add(24*time.Hour), t0.Add(72*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound outside range", err)
	}

	found, err := txns.FindRecurringInstance(ctx, tmpl.ID, t0.Add(-48*time.Hour), t0.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("FindRecurringInstance: %v", err)
	}
	if found.ID != existing.ID {
		t.Fatalf("found %s, want %s", found.ID, existing.ID)
	}

	err = txns.MergeSMSMetadata(ctx, found.ID, domain.SMSMetadata{
		SMSSender:       "VM-HDFCBK",
		SenderKey:       "HDFCBK",
		ReferenceNumber: strPtr("utr555666777"),
		MerchantName:    strPtr("OTHER NAME"),
		UPIID:           strPtr("landlord@okicici"),
		OriginalMessage: "Rs 1000 debited ...",
	})
	if err != nil {
		t.Fatalf("MergeSMSMetadata: %v", err)
	}

	merged, _ := txns.GetByID(ctx, found.ID)
	if *merged.SMSSender != "VM-HDFCBK" || *merged.ReferenceNumber != "UTR555666777" || *merged.UPIID != "landlord@okicici" {
		t.Errorf("merged = %+v", merged)
	}
	if *merged.MerchantName != "LANDLORD" {
		t.Errorf("MerchantName overwritten: %s", *merged.MerchantName)
	}

	if err := txns.MergeSMSMetadata(ctx, "missing", domain.SMSMetadata{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("merge missing err = %v", err)
	}

	next := t0.AddDate(0, 1, 0)
	if err := recurring.AdvanceDueDate(ctx, tmpl.ID, next); err != nil {
		t.Fatal(err)
	}
	active, _ := recurring.ListActive(ctx, acc.ID)
	if len(active) != 1 || !active[0].NextDueDate.Equal(next) || !active[0].Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("ListActive = %+v", active)
	}
}

func TestTransactionRepo_ListAndSummary(t *testing.T) {
	ctx := context.Background()
	txns := NewTransactionRepo(newTestDB(t))

	rows := []domain.Transaction{
		{Amount: decimal.NewFromInt(100), IsDebit: true, Category: "food", BankCode: strPtr("HDFC"), OccurredAt: t0},
		{Amount: decimal.NewFromInt(50), IsDebit: true, Category: "food", OccurredAt: t0.Add(time.Hour)},
		{Amount: decimal.NewFromInt(1000), IsDebit: false, Category: "uncategorized", OccurredAt: t0.Add(2 * time.Hour)},
	}
	for i := range rows {
		if err := txns.Insert(ctx, &rows[i], decimal.Zero); err != nil {
			t.Fatal(err)
		}
	}

	debit := true
	list, total, err := txns.List(ctx, TransactionFilter{IsDebit: &debit, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(list) != 1 || !list[0].Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("List = %d/%+v", total, list)
	}

	list, _, _ = txns.List(ctx, TransactionFilter{BankCode: "hdfc"})
	if len(list) != 1 {
		t.Errorf("bank filter = %d rows", len(list))
	}

	s, err := txns.GetSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 3 || s.Debits != 2 || s.Credits != 1 || s.Unassigned != 3 {
		t.Errorf("summary counts = %+v", s)
	}
	if !s.TotalSpent.Equal(decimal.NewFromInt(150)) || !s.TotalIncome.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("summary totals = %s/%s", s.TotalSpent, s.TotalIncome)
	}
	if len(s.SpentByCategory) != 1 || s.SpentByCategory[0].Count != 2 {
		t.Errorf("SpentByCategory = %+v", s.SpentByCategory)
	}
}

func TestMessageRepo_ImportAndStream(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepo(newTestDB(t))

	msgs := []domain.Message{
		{SenderID: "VM-HDFCBK", Body: "later", Timestamp: t0.Add(time.Hour)},
		{SenderID: "VM-HDFCBK", Body: "first", Timestamp: t0},
		{SenderID: "VM-HDFCBK", Body: "first", Timestamp: t0},
	}
	imp := &domain.CorpusImport{ID: "imp-1", Format: "json", FileHash: "abc", MessageCount: 3, ImportedAt: t0}

	n, err := repo.SaveImport(ctx, imp, msgs)
	if err != nil {
		t.Fatalf("SaveImport: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2 (duplicate row ignored)", n)
	}

	if ok, _ := repo.ImportExistsByHash(ctx, "abc"); !ok {
		t.Error("import hash not recorded")
	}
	dup := &domain.CorpusImport{ID: "imp-2", Format: "json", FileHash: "abc", ImportedAt: t0}
	if _, err := repo.SaveImport(ctx, dup, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("second import err = %v, want ErrConflict", err)
	}

	var all []domain.Message
	err = repo.Stream(ctx, time.Time{}, func(m domain.Message) error {
		all = append(all, m)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Body != "first" || all[1].Body != "later" {
		t.Errorf("Stream from zero = %+v", all)
	}

	var seen []string
	err = repo.Stream(ctx, t0.Add(30*time.Minute), func(m domain.Message) error {
		seen = append(seen, m.Body)
		return nil
	})
	if err != nil || len(seen) != 1 || seen[0] != "later" {
		t.Errorf("Stream = %v, %v", seen, err)
	}
}

func TestBankRepo_MergeDiscovered(t *testing.T) {
	ctx := context.Background()
	repo := NewBankRepo(newTestDB(t))
	code := "HDFC"

	first := domain.DiscoveredBank{
		SenderIDs: []string{"VM-HDFCBK"}, PrimarySenderID: "VM-HDFCBK", NewSenderIDs: []string{},
		BankCode: &code, BankName: "HDFC Bank", TransactionCount: 10,
		SampleMessage: "old", LastTransactionTimestamp: t0.Add(48 * time.Hour), IsKnownBank: true,
	}
	unknown := domain.DiscoveredBank{
		SenderIDs: []string{"VM-XYZBNK"}, PrimarySenderID: "VM-XYZBNK", NewSenderIDs: []string{"VM-XYZBNK"},
		BankName: "XYZ Bank", TransactionCount: 2, SampleMessage: "x", LastTransactionTimestamp: t0,
	}

	created, err := repo.MergeDiscovered(ctx, []domain.DiscoveredBank{first, unknown}, t0)
	if err != nil || created != 2 {
		t.Fatalf("first merge = %d, %v", created, err)
	}

	second := first
	second.SenderIDs = []string{"JD-HDFCBK", "VK-HDFCBANK"}
	second.NewSenderIDs = []string{"VK-HDFCBANK"}
	second.TransactionCount = 4
	second.SampleMessage = "older"
	second.LastTransactionTimestamp = t0

	created, err = repo.MergeDiscovered(ctx, []domain.DiscoveredBank{second}, t0.Add(72*time.Hour))
	if err != nil || created != 0 {
		t.Fatalf("second merge = %d, %v", created, err)
	}

	banks, err := repo.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(banks) != 2 || !banks[0].IsKnownBank {
		t.Fatalf("List = %+v", banks)
	}
	b := banks[0]
	if len(b.SenderIDs) != 3 || b.TransactionCount != 10 || b.SampleMessage != "old" {
		t.Errorf("merged = %+v", b)
	}
	if !b.FirstSeenAt.Equal(t0) || !b.UpdatedAt.Equal(t0.Add(72*time.Hour)) {
		t.Errorf("first/updated = %v/%v", b.FirstSeenAt, b.UpdatedAt)
	}
	if len(b.NewSenderIDs) != 1 || b.NewSenderIDs[0] != "VK-HDFCBANK" {
		t.Errorf("NewSenderIDs = %v", b.NewSenderIDs)
	}
}
