package service

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollis/countinghouse/internal/database/repository"
	"github.com/hollis/countinghouse/internal/money"
)

// ReadBatchCSV reads statement rows as date, amount, description and an
// optional currency column. An optional header line is skipped. Field-level
// problems are not judged here; the importer turns them into skipped rows.
func ReadBatchCSV(r io.Reader, accountID, period, source string) (TransactionBatch, error) {
	batch := TransactionBatch{AccountID: accountID, Period: period, Source: source}
	cr := csv.NewReader(bufio.NewReader(r))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return TransactionBatch{}, fmt.Errorf("read batch csv: %w", err)
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
				continue
			}
		}
		var row BatchRow
		if len(rec) > 0 {
			row.Date = rec[0]
		}
		if len(rec) > 1 {
			row.Amount = rec[1]
		}
		if len(rec) > 2 {
			row.RawDescription = rec[2]
		}
		if len(rec) > 3 {
			row.Currency = rec[3]
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

// ReadBatchJSON reads a TransactionBatch document. Account and period given
// by the caller fill in whatever the file leaves blank.
func ReadBatchJSON(r io.Reader, accountID, period, source string) (TransactionBatch, error) {
	var batch TransactionBatch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return TransactionBatch{}, fmt.Errorf("read batch json: %w", err)
	}
	if batch.AccountID == "" {
		batch.AccountID = accountID
	}
	if batch.Period == "" {
		batch.Period = period
	}
	if batch.Source == "" {
		batch.Source = source
	}
	return batch, nil
}

// ReadLedgerCSV reads snapshot rows as date, amount, description. Ledger
// extracts are authoritative, so any bad row refuses the whole snapshot.
// Entry ids derive from content plus an occurrence counter, keeping reloads
// of the same extract idempotent.
func ReadLedgerCSV(r io.Reader, accountID string) (LedgerSnapshot, error) {
	snap := LedgerSnapshot{AccountID: accountID}
	cr := csv.NewReader(bufio.NewReader(r))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	seen := make(map[string]int)
	first := true
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return LedgerSnapshot{}, fmt.Errorf("read ledger csv: %w", err)
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
				continue
			}
		}
		if len(rec) < 3 {
			return LedgerSnapshot{}, fmt.Errorf("ledger csv line %d: expected date, amount, description", line)
		}
		e, err := ledgerEntry(accountID, "", rec[0], rec[1], rec[2], seen)
		if err != nil {
			return LedgerSnapshot{}, fmt.Errorf("ledger csv line %d: %w", line, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

type ledgerFile struct {
	AccountID string `json:"account_id"`
	Entries   []struct {
		ID          string `json:"id,omitempty"`
		Date        string `json:"date"`
		Amount      string `json:"amount"`
		Description string `json:"description"`
	} `json:"entries"`
}

// ReadLedgerJSON reads a snapshot document. Entries may carry their own ids
// from the bookkeeping system; blank ids derive from content.
func ReadLedgerJSON(r io.Reader, accountID string) (LedgerSnapshot, error) {
	var f ledgerFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return LedgerSnapshot{}, fmt.Errorf("read ledger json: %w", err)
	}
	if f.AccountID != "" {
		accountID = f.AccountID
	}
	snap := LedgerSnapshot{AccountID: accountID}
	seen := make(map[string]int)
	for i, raw := range f.Entries {
		e, err := ledgerEntry(accountID, raw.ID, raw.Date, raw.Amount, raw.Description, seen)
		if err != nil {
			return LedgerSnapshot{}, fmt.Errorf("ledger json entry %d: %w", i, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

func ledgerEntry(accountID, id, dateStr, amountStr, desc string, seen map[string]int) (repository.LedgerEntry, error) {
	date, err := parseRowDate(dateStr)
	if err != nil {
		return repository.LedgerEntry{}, fmt.Errorf("date: %w", err)
	}
	cents, err := money.ParseCents(amountStr)
	if err != nil {
		return repository.LedgerEntry{}, fmt.Errorf("amount: %w", err)
	}
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return repository.LedgerEntry{}, fmt.Errorf("description: missing")
	}
	if id == "" {
		key := strings.Join([]string{"ledger", accountID, date.Format(time.DateOnly),
			strconv.FormatInt(cents, 10), desc}, "|")
		n := seen[key]
		seen[key]++
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(key+"|"+strconv.Itoa(n))).String()
	}
	return repository.LedgerEntry{
		ID:          id,
		AccountID:   accountID,
		Date:        date,
		AmountCents: cents,
		Description: desc,
	}, nil
}
