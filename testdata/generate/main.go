// Command generate writes a deterministic SMS inbox used to seed a fresh
// database and to exercise the corpus importers. Run from the repo root:
//
//	go run ./testdata/generate
package main

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kharcha/reconciler/internal/currency"
	"github.com/kharcha/reconciler/internal/domain"
)

type sender struct {
	ids   []string
	last4 string
	card  string
}

var senders = []sender{
	{ids: []string{"VM-HDFCBK", "AD-HDFCBK", "JD-HDFCBN"}, last4: "1234", card: "4321"},
	{ids: []string{"AX-ICICIB", "VK-ICICIT"}, last4: "9876", card: "5566"},
	{ids: []string{"BZ-SBIINB", "AD-SBIUPI"}, last4: "4455"},
	{ids: []string{"VM-AXISBK"}, last4: "7788", card: "8899"},
	{ids: []string{"JM-KOTAKB"}, last4: "2468"},
}

var merchants = []string{
	"SWIGGY", "ZOMATO", "AMAZON", "FLIPKART", "UBER", "OLA", "BIGBASKET",
	"NETFLIX", "APOLLO PHARMACY", "BOOKMYSHOW", "IRCTC", "SHELL PETROL",
}

var payees = []string{"RAHUL SHARMA", "PRIYA NAIR", "ANIL KUMAR", "MEERA IYER"}

var noise = []struct{ sender, body string }{
	{"VM-HDFCBK", "482913 is your OTP for txn of Rs 1,250.00 at AMAZON. Do not share it with anyone."},
	{"AD-ICICIB", "Congratulations! You are pre-approved for a personal loan of Rs 5,00,000. Apply now."},
	{"JD-AIRTEL", "Your Airtel recharge of Rs 299 is due tomorrow. Recharge now to continue enjoying benefits."},
	{"+919812345678", "Reached home, will call you later"},
	{"VM-SWIGGY", "Your order from Meghana Foods is out for delivery!"},
	{"BZ-SBIINB", "Rs 1200 will be debited from your a/c XX4455 on 10-02 towards EMI."},
}

// Outside the built-in bank directory so discovery reports it as unknown.
var unknownSenders = []string{"VM-FINOPB", "AD-SURYAB"}

func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := findTestdataDir()

	// Date range: 2024-03-01 to 2024-03-31.
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	days := 31

	var msgs []domain.Message
	at := func() time.Time {
		return start.AddDate(0, 0, rng.Intn(days)).Add(
			time.Duration(rng.Intn(14)+8)*time.Hour + time.Duration(rng.Intn(60))*time.Minute,
		)
	}

	for i := 0; i < 120; i++ {
		s := senders[rng.Intn(len(senders))]
		id := s.ids[rng.Intn(len(s.ids))]
		amount := decimal.NewFromFloat(20 + rng.Float64()*4980).Round(2)
		ref := strconv.FormatInt(400000000000+rng.Int63n(99999999999), 10)
		ts := at()
		date := ts.Format("02-01-06")

		var body string
		roll := rng.Float64()
		switch {
		case roll < 0.45:
			body = fmt.Sprintf("Rs.%s debited from A/C XX%s to %s on %s. UPI Ref No %s. Not you? Call 18002586161",
				amount.StringFixed(2), s.last4, merchants[rng.Intn(len(merchants))], date, ref)
		case roll < 0.65 && s.card != "":
			body = fmt.Sprintf("Spent %s on your credit card XX%s at %s on %s. Avl limit: INR 1,20,000",
				currency.Format(amount), s.card, merchants[rng.Intn(len(merchants))], date)
		case roll < 0.85:
			body = fmt.Sprintf("Your A/C XX%s is credited with Rs %s on %s by %s. Ref %s",
				s.last4, amount.StringFixed(2), date, payees[rng.Intn(len(payees))], ref)
		default:
			body = fmt.Sprintf("Sent Rs.%s from A/C XX%s to %s@okaxis on %s. UPI Ref %s",
				amount.StringFixed(2), s.last4, "merchant"+strconv.Itoa(rng.Intn(50)), date, ref)
		}
		msgs = append(msgs, domain.Message{
			SenderID:  id,
			Body:      body,
			Timestamp: ts,
		})

		// 5% delivered twice under a sibling sender id.
		if rng.Float64() < 0.05 && len(s.ids) > 1 {
			dup := msgs[len(msgs)-1]
			dup.SenderID = s.ids[(rng.Intn(len(s.ids)-1)+1)%len(s.ids)]
			dup.Timestamp = dup.Timestamp.Add(time.Duration(rng.Intn(300)+1) * time.Second)
			msgs = append(msgs, dup)
		}
	}

	// Monthly bills that line up with recurring templates.
	msgs = append(msgs,
		domain.Message{SenderID: "VM-HDFCBK", Body: "Rs.649.00 debited from A/C XX1234 to NETFLIX on 05-03-24. UPI Ref No 412345678901", Timestamp: time.Date(2024, 3, 5, 9, 12, 0, 0, time.UTC)},
		domain.Message{SenderID: "AX-ICICIB", Body: "Your A/C XX9876 is credited with Rs 85,000.00 on 01-03-24 by ACME PAYROLL. Ref 498765432109", Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	)

	for _, u := range unknownSenders {
		for i := 0; i < 3; i++ {
			amount := decimal.NewFromFloat(100 + rng.Float64()*900).Round(2)
			msgs = append(msgs, domain.Message{
				SenderID:  u,
				Body:      fmt.Sprintf("INR %s debited from your account XX%04d. Avl bal INR 10,000.00", amount.StringFixed(2), rng.Intn(10000)),
				Timestamp: at(),
			})
		}
	}

	for _, n := range noise {
		msgs = append(msgs, domain.Message{SenderID: n.sender, Body: n.body, Timestamp: at()})
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })

	writeJSONFile(filepath.Join(baseDir, "messages.json"), msgs)
	writeXMLFile(filepath.Join(baseDir, "messages.xml"), msgs)
	writeCSVFile(filepath.Join(baseDir, "messages.csv"), msgs)
	fmt.Printf("Generated %d messages -> messages.{json,xml,csv}\n", len(msgs))
}

type backupSMS struct {
	Address string `xml:"address,attr"`
	Date    int64  `xml:"date,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:"body,attr"`
}

type backup struct {
	XMLName xml.Name    `xml:"smses"`
	Count   int         `xml:"count,attr"`
	SMS     []backupSMS `xml:"sms"`
}

func writeXMLFile(path string, msgs []domain.Message) {
	b := backup{Count: len(msgs)}
	for _, m := range msgs {
		b.SMS = append(b.SMS, backupSMS{Address: m.SenderID, Date: m.Timestamp.UnixMilli(), Type: "1", Body: m.Body})
	}
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	f.WriteString(xml.Header)
	enc := xml.NewEncoder(f)
	enc.Indent("", "  ")
	if err := enc.Encode(b); err != nil {
		panic(err)
	}
}

func writeCSVFile(path string, msgs []domain.Message) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	w.Write([]string{"sender_id", "body", "timestamp"})
	for _, m := range msgs {
		w.Write([]string{m.SenderID, m.Body, m.Timestamp.Format(time.RFC3339)})
	}
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}

func findTestdataDir() string {
	for _, c := range []string{"testdata", "../testdata", ".."} {
		if info, err := os.Stat(filepath.Join(c, "generate")); err == nil && info.IsDir() {
			return c
		}
	}
	return "testdata"
}
