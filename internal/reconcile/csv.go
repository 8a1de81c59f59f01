package reconcile

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Role is the logical meaning of a CSV column
type Role string

const (
	RoleSlot        Role = "slot"
	RoleSoldPrice   Role = "sold_price"
	RoleFees        Role = "fees"
	RoleTaxes       Role = "taxes"
	RoleShipping    Role = "shipping"
	RoleBuyer       Role = "buyer"
	RoleOrderID     Role = "order_id"
	RolePlacedAt    Role = "placed_at"
	RoleCancelled   Role = "cancelled"
	RoleProductName Role = "product_name"
	RoleSKU         Role = "sku"
)

// rolePatterns is evaluated top to bottom. A header claimed by an earlier role is not
// offered to later ones, so "shipping price" lands on shipping before price sees it.
var rolePatterns = []struct {
	role     Role
	patterns []string
}{
	{RoleCancelled, []string{"cancelled", "canceled", "failed"}},
	{RoleOrderID, []string{"order id", "order_id", "order number", "order #", "order no"}},
	{RolePlacedAt, []string{"placed at", "placed_at", "date", "time", "created"}},
	{RoleBuyer, []string{"buyer", "username", "customer"}},
	{RoleShipping, []string{"shipping", "postage"}},
	{RoleFees, []string{"fee", "commission"}},
	{RoleTaxes, []string{"tax"}},
	{RoleSKU, []string{"sku"}},
	{RoleSlot, []string{"slot", "item #", "item number", "item no", "lot #"}},
	{RoleProductName, []string{"product name", "title", "product", "item name", "name", "description"}},
	{RoleSoldPrice, []string{"price", "sold", "amount", "total"}},
}

var cancelledValues = map[string]bool{
	"true":      true,
	"yes":       true,
	"1":         true,
	"cancelled": true,
	"canceled":  true,
	"failed":    true,
}

// RawCSVRow is one parsed data line of an uploaded export
type RawCSVRow struct {
	RowNumber           int               `json:"row_number"`
	RawFields           map[string]string `json:"raw_fields"`
	ProductName         string            `json:"product_name,omitempty"`
	SKU                 string            `json:"sku,omitempty"`
	ExtractedSlotNumber *int              `json:"extracted_slot_number,omitempty"`
	SoldPrice           *decimal.Decimal  `json:"sold_price,omitempty"`
	Fees                *decimal.Decimal  `json:"fees,omitempty"`
	Taxes               *decimal.Decimal  `json:"taxes,omitempty"`
	Shipping            *decimal.Decimal  `json:"shipping,omitempty"`
	CancelledOrFailed   bool              `json:"cancelled_or_failed"`
	Buyer               string            `json:"buyer,omitempty"`
	PlacedAt            string            `json:"placed_at,omitempty"`
	OrderID             string            `json:"order_id,omitempty"`
}

// ParseResult is the outcome of ParseCSV. Callers must check len(Rows) before matching.
type ParseResult struct {
	Rows    []RawCSVRow     `json:"rows"`
	Headers []string        `json:"headers"`
	Columns map[Role]string `json:"columns"`
	Errors  []string        `json:"errors"`
}

// ParseCSV parses raw export text. The first line is the header; bad lines are skipped and
// reported in Errors instead of failing the whole parse.
func ParseCSV(raw string) ParseResult {
	res := ParseResult{Columns: map[Role]string{}}

	raw = strings.TrimPrefix(raw, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	header, err := splitLine(lines[0])
	if err != nil || len(header) == 0 || (len(header) == 1 && header[0] == "") {
		res.Errors = append(res.Errors, "missing or unreadable header row")
		return res
	}
	for i := range header {
		header[i] = strings.ToLower(header[i])
	}
	res.Headers = header
	res.Columns = DetectColumns(header)

	rowNumber := 0
	for lineNo, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rowNumber++

		fields, err := splitLine(line)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", lineNo+2, err))
			continue
		}
		if len(fields) > len(header) {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %d fields, header has %d", lineNo+2, len(fields), len(header)))
			continue
		}

		row := RawCSVRow{
			RowNumber: rowNumber,
			RawFields: make(map[string]string, len(header)),
		}
		for i, value := range fields {
			if _, exists := row.RawFields[header[i]]; !exists {
				row.RawFields[header[i]] = value
			}
		}
		res.Errors = append(res.Errors, populateRow(&row, res.Columns, lineNo+2)...)
		res.Rows = append(res.Rows, row)
	}

	if rowNumber == 0 {
		res.Errors = append(res.Errors, "CSV contains no data rows")
	}

	return res
}

// DetectColumns assigns a header to each role it can find
func DetectColumns(headers []string) map[Role]string {
	columns := make(map[Role]string)
	claimed := make(map[string]bool)

	for _, rp := range rolePatterns {
	patterns:
		for _, pattern := range rp.patterns {
			for _, h := range headers {
				if claimed[h] || !strings.Contains(h, pattern) {
					continue
				}
				columns[rp.role] = h
				claimed[h] = true
				break patterns
			}
		}
	}

	return columns
}

func populateRow(row *RawCSVRow, columns map[Role]string, lineNo int) []string {
	var errs []string

	get := func(role Role) (string, bool) {
		h, ok := columns[role]
		if !ok {
			return "", false
		}
		v, ok := row.RawFields[h]
		return v, ok
	}

	money := func(role Role) *decimal.Decimal {
		v, ok := get(role)
		if !ok {
			return nil
		}
		d, err := parseMoney(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("line %d: unparseable %s %q", lineNo, role, v))
			return nil
		}
		return d
	}

	row.ProductName, _ = get(RoleProductName)
	row.SKU, _ = get(RoleSKU)
	row.Buyer, _ = get(RoleBuyer)
	row.PlacedAt, _ = get(RolePlacedAt)
	row.OrderID, _ = get(RoleOrderID)
	row.SoldPrice = money(RoleSoldPrice)
	row.Fees = money(RoleFees)
	row.Taxes = money(RoleTaxes)
	row.Shipping = money(RoleShipping)

	if v, ok := get(RoleCancelled); ok {
		row.CancelledOrFailed = cancelledValues[strings.ToLower(strings.TrimSpace(v))]
	}

	if v, ok := get(RoleSlot); ok {
		row.ExtractedSlotNumber = firstInteger(v)
	}
	if row.ExtractedSlotNumber == nil && row.ProductName != "" {
		row.ExtractedSlotNumber = ExtractSlotNumber(row.ProductName)
	}
	if row.ExtractedSlotNumber == nil && row.SKU != "" {
		row.ExtractedSlotNumber = firstInteger(row.SKU)
	}

	return errs
}

func splitLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, nil
}

// parseMoney returns nil for an empty cell and an error for anything non-numeric.
// Accounting-style "(5.00)" reads as -5.00.
func parseMoney(s string) (*decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	cleaned = strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(cleaned), "USD"), "CAD")
	if cleaned == "" {
		return nil, nil
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil, err
	}
	if negative {
		d = d.Neg()
	}
	return &d, nil
}
