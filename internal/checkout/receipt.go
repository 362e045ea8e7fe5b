package checkout

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logging"
)

// ReceiptScheduler is told about every completed sale. It must not block.
type ReceiptScheduler interface {
	Schedule(tx domain.Transaction)
}

type NoopReceipts struct{}

func (NoopReceipts) Schedule(domain.Transaction) {}

type Receipt struct {
	TransactionID string `json:"transaction_id"`
	PreviewText   string `json:"preview_text"`
	EscposBase64  string `json:"escpos_base64"`
	FileName      string `json:"file_name"`
}

// RenderReceipt builds the printable text and ESC/POS bytes for a sale.
func RenderReceipt(businessName string, tx domain.Transaction) Receipt {
	if businessName == "" {
		businessName = "DukaPOS"
	}
	lines := []string{
		businessName,
		"================================",
		"TX: " + tx.ID,
		"Branch: " + tx.BranchID,
		"Cashier: " + tx.CashierID,
		"Date: " + tx.Timestamp.Format("2006-01-02 15:04:05"),
		"--------------------------------",
	}
	for _, item := range tx.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		lines = append(lines, fmt.Sprintf("  @%s  %s", item.UnitPrice.StringFixed(2), item.LineTotal.StringFixed(2)))
	}
	lines = append(lines,
		"--------------------------------",
		fmt.Sprintf("Subtotal   : %s", tx.Subtotal.StringFixed(2)),
		fmt.Sprintf("Discount   : %s (%s%%)", tx.DiscountAmount.StringFixed(2), tx.DiscountPct.String()),
		fmt.Sprintf("Excl. VAT  : %s", tx.PriceBeforeVAT.StringFixed(2)),
		fmt.Sprintf("VAT %s%%  : %s", tx.VATRate.Shift(2).String(), tx.VATAmount.StringFixed(2)),
		fmt.Sprintf("Total      : %s", tx.Total.StringFixed(2)),
		fmt.Sprintf("Paid by    : %s (%s)", strings.ToUpper(tx.PaymentMethod), tx.PaymentStatus),
		"================================",
		"Asante kwa kununua",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return Receipt{
		TransactionID: tx.ID,
		PreviewText:   strings.Join(lines, "\n"),
		EscposBase64:  base64.StdEncoding.EncodeToString(escpos),
		FileName:      fmt.Sprintf("receipt-%s.bin", tx.ID),
	}
}

// ReceiptQueue renders receipts on a background worker and hands them to
// the sink. When the queue is full the receipt is dropped and logged; it
// can always be rendered again from the stored transaction.
type ReceiptQueue struct {
	businessName string
	sink         func(Receipt)
	jobs         chan domain.Transaction
	logger       zerolog.Logger
	wg           sync.WaitGroup
	mu           sync.Mutex
	closed       bool
}

func NewReceiptQueue(businessName string, size int, sink func(Receipt)) *ReceiptQueue {
	if size < 1 {
		size = 64
	}
	q := &ReceiptQueue{
		businessName: businessName,
		sink:         sink,
		jobs:         make(chan domain.Transaction, size),
		logger:       logging.For("receipts"),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *ReceiptQueue) run() {
	defer q.wg.Done()
	for tx := range q.jobs {
		receipt := RenderReceipt(q.businessName, tx)
		if q.sink != nil {
			q.sink(receipt)
		}
		q.logger.Debug().Str("transaction_id", tx.ID).Msg("receipt rendered")
	}
}

func (q *ReceiptQueue) Schedule(tx domain.Transaction) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- tx:
	default:
		q.logger.Warn().Str("transaction_id", tx.ID).Msg("receipt queue full, dropping")
	}
}

// Close drains pending receipts or gives up when ctx ends.
func (q *ReceiptQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
