package aifallback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"

	"github.com/kharcha/reconciler/internal/bankdir"
	"github.com/kharcha/reconciler/internal/domain"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

const basePrompt = "You extract bank transactions from Indian bank SMS messages.\n\n" +
	"Task:\n" +
	"- Decide whether the message reports a transaction that has ALREADY happened.\n" +
	"- OTPs, reminders, offers, mandates and future debits are NOT transactions.\n" +
	"- Output STRICT JSON only: one object, no Markdown, no code fences.\n\n" +
	"Fields:\n" +
	"- \"is_transaction\": boolean\n" +
	"- \"amount\": number, positive, in rupees\n" +
	"- \"is_debit\": boolean (true when money left the account)\n" +
	"- \"merchant_name\": string or null\n" +
	"- \"account_hint\": string or null (exactly the last 4 digits of the account or card)\n" +
	"- \"card_type\": one of \"CREDIT\", \"DEBIT\", \"PREPAID\" or null\n" +
	"- \"upi_id\": string or null (any handle containing \"@\" goes here, never in a name)\n" +
	"- \"reference_number\": string or null\n" +
	"- \"sender_name\": string or null (who paid, for credits)\n" +
	"- \"receiver_name\": string or null (who was paid, for debits)\n\n" +
	"Output must begin with \"{\" and end with \"}\".\n"

// modelReply is the JSON object the prompt asks for.
type modelReply struct {
	IsTransaction   bool            `json:"is_transaction"`
	Amount          decimal.Decimal `json:"amount"`
	IsDebit         bool            `json:"is_debit"`
	MerchantName    *string         `json:"merchant_name"`
	AccountHint     *string         `json:"account_hint"`
	CardType        *string         `json:"card_type"`
	UPIID           *string         `json:"upi_id"`
	ReferenceNumber *string         `json:"reference_number"`
	SenderName      *string         `json:"sender_name"`
	ReceiverName    *string         `json:"receiver_name"`
}

type generateFunc func(ctx context.Context, prompt string) (string, error)

// GeminiParser asks a Gemini model to parse a message.
type GeminiParser struct {
	generate generateFunc
	dir      *bankdir.Directory
}

// NewGeminiParser creates a client for the Gemini API. An empty apiKey lets
// the SDK read GOOGLE_API_KEY or GEMINI_API_KEY from the environment.
func NewGeminiParser(ctx context.Context, apiKey, model string, dir *bankdir.Directory) (*GeminiParser, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	temperature := float32(0)
	cfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}
	generate := func(ctx context.Context, prompt string) (string, error) {
		contents := []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: prompt}},
			},
		}
		resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		return resp.Text(), nil
	}
	return newGeminiParser(generate, dir), nil
}

func newGeminiParser(generate generateFunc, dir *bankdir.Directory) *GeminiParser {
	if dir == nil {
		dir = bankdir.Default()
	}
	return &GeminiParser{generate: generate, dir: dir}
}

// Parse implements Parser.
func (g *GeminiParser) Parse(ctx context.Context, msg domain.Message) (*domain.ParsedTransaction, error) {
	prompt := basePrompt + "\nSender: " + msg.SenderID + "\nMessage:\n" + msg.Body + "\n"

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &reply); err != nil {
		return nil, fmt.Errorf("unmarshal model reply: %w", err)
	}
	if !reply.IsTransaction || !reply.Amount.IsPositive() {
		return nil, ErrNotTransaction
	}
	return g.toParsed(reply, msg), nil
}

func (g *GeminiParser) toParsed(r modelReply, msg domain.Message) *domain.ParsedTransaction {
	p := &domain.ParsedTransaction{
		Amount:          r.Amount.Round(2),
		IsDebit:         r.IsDebit,
		MerchantName:    trimmed(r.MerchantName),
		AccountHint:     last4(trimmed(r.AccountHint)),
		UPIID:           trimmed(r.UPIID),
		ReferenceNumber: upper(trimmed(r.ReferenceNumber)),
		SenderName:      trimmed(r.SenderName),
		ReceiverName:    trimmed(r.ReceiverName),
		OriginalMessage: msg.Body,
	}
	p.SenderName = moveHandle(p, p.SenderName)
	p.ReceiverName = moveHandle(p, p.ReceiverName)
	if r.CardType != nil {
		switch ct := domain.CardType(strings.ToUpper(strings.TrimSpace(*r.CardType))); ct {
		case domain.CardCredit, domain.CardDebit, domain.CardPrepaid:
			p.CardType = &ct
		}
	}
	if bank, ok := g.dir.FindBySender(msg.SenderID); ok {
		code, name := bank.Code, bank.Name
		p.BankCode, p.BankName = &code, &name
	}
	return p
}

// moveHandle keeps UPI handles out of person names. A name containing "@"
// becomes the UPI id when none was given and is dropped either way.
func moveHandle(p *domain.ParsedTransaction, name *string) *string {
	if name == nil || !strings.Contains(*name, "@") {
		return name
	}
	if p.UPIID == nil {
		p.UPIID = name
	}
	return nil
}

// last4 accepts a hint only when it carries at least four digits and keeps the
// final four, matching what the SMS extractor produces.
func last4(s *string) *string {
	if s == nil {
		return nil
	}
	digits := make([]byte, 0, len(*s))
	for i := 0; i < len(*s); i++ {
		if c := (*s)[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) < 4 {
		return nil
	}
	v := string(digits[len(digits)-4:])
	return &v
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func upper(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.ToUpper(*s)
	return &v
}
