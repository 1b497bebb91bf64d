package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ID is a backend identifier. The API returns the same key as a number on
// some endpoints and as a string on others, so both decode into ID.
type ID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("domain: id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

// Int returns the identifier as an integer for write payloads.
func (id ID) Int() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Company is the root of the selection chain.
type Company struct {
	ID   ID     `json:"company_id"`
	Name string `json:"company_name"`
}

// Project carries its sites inline; the backend returns them nested.
type Project struct {
	ID        ID     `json:"project_id"`
	Name      string `json:"project_name"`
	CompanyID ID     `json:"company_id"`
	Sites     []Site `json:"sites"`
}

// Site only exists inside a project's Sites.
type Site struct {
	ID       ID     `json:"site_id"`
	Name     string `json:"site_name"`
	PONumber ID     `json:"po_number"`
}

// Label renders the site name with its purchase order number when known.
func (s Site) Label() string {
	if s.PONumber == "" {
		return s.Name
	}
	return fmt.Sprintf("%s (PO: %s)", s.Name, s.PONumber)
}

// WorkDescription scopes a set of leaf items within a site.
type WorkDescription struct {
	ID     ID
	Name   string
	SiteID ID
}

// UnmarshalJSON resolves the key spellings used by the work, material and
// budget endpoints into one shape.
func (w *WorkDescription) UnmarshalJSON(data []byte) error {
	var raw struct {
		DescID       ID     `json:"desc_id"`
		WorkDescID   ID     `json:"work_desc_id"`
		ID           ID     `json:"id"`
		DescName     string `json:"desc_name"`
		WorkDescName string `json:"work_desc_name"`
		Name         string `json:"name"`
		SiteID       ID     `json:"site_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.ID = firstID(raw.DescID, raw.WorkDescID, raw.ID)
	w.Name = firstString(raw.DescName, raw.WorkDescName, raw.Name)
	w.SiteID = raw.SiteID
	return nil
}

// LeafItem is the row a user acts on: a reckoner line, a material dispatch,
// a budget allocation or a labourer. Field domains map their payloads into
// this shape.
type LeafItem struct {
	ID            ID
	Category      string
	Subcategory   string
	Name          string
	Description   string
	DescriptionID ID
	Unit          string
	Rate          decimal.Decimal
	POQuantity    decimal.Decimal
	Completed     decimal.Decimal
	// Value is the contract value of the line; CompletedValue is what has
	// been booked against it so far.
	Value          decimal.Decimal
	CompletedValue decimal.Decimal
	Budget         decimal.Decimal
}

// Label is the text shown for the item in lists.
func (i LeafItem) Label() string {
	switch {
	case i.Name != "" && i.Subcategory != "":
		return fmt.Sprintf("%s · %s", i.Subcategory, i.Name)
	case i.Name != "":
		return i.Name
	case i.Subcategory != "":
		return i.Subcategory
	default:
		return i.Description
	}
}

// HistoryEntry is an immutable record of a change applied to a leaf item.
type HistoryEntry struct {
	ID        ID
	Amount    decimal.Decimal
	Value     decimal.Decimal
	Remarks   string
	CreatedAt time.Time
}

// Acknowledgement is a site-incharge confirmation against a dispatch. At most
// one exists per dispatch.
type Acknowledgement struct {
	ID           ID                  `json:"id"`
	DispatchID   ID                  `json:"material_dispatch_id"`
	CompAQty     decimal.NullDecimal `json:"comp_a_qty"`
	CompBQty     decimal.NullDecimal `json:"comp_b_qty"`
	CompCQty     decimal.NullDecimal `json:"comp_c_qty"`
	CompARemarks string              `json:"comp_a_remarks"`
	CompBRemarks string              `json:"comp_b_remarks"`
	CompCRemarks string              `json:"comp_c_remarks"`
}

// Acknowledged reports whether any component quantity was recorded.
func (a *Acknowledgement) Acknowledged() bool {
	if a == nil {
		return false
	}
	return a.CompAQty.Valid || a.CompBQty.Valid || a.CompCQty.Valid
}

// Quantity returns the first recorded component quantity (A, then B, then C).
func (a *Acknowledgement) Quantity() (decimal.Decimal, bool) {
	if a == nil {
		return decimal.Zero, false
	}
	for _, q := range []decimal.NullDecimal{a.CompAQty, a.CompBQty, a.CompCQty} {
		if q.Valid {
			return q.Decimal, true
		}
	}
	return decimal.Zero, false
}

// Remarks returns the first non-empty component remark.
func (a *Acknowledgement) Remarks() string {
	if a == nil {
		return ""
	}
	return firstString(a.CompARemarks, a.CompBRemarks, a.CompCRemarks)
}

// History is the as-of-date view of one leaf item.
type History struct {
	Cumulative decimal.Decimal
	Entries    []HistoryEntry
	Ack        *Acknowledgement
	// Fallback marks a history synthesized locally because the fetch failed.
	Fallback bool
	// Written marks that a record was saved for the item from this client,
	// whether or not a re-fetch has shown it yet.
	Written bool
}

// Labour is a worker that can be assigned to a work description.
type Labour struct {
	ID       ID     `json:"id"`
	FullName string `json:"full_name"`
}

func firstID(values ...ID) ID {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstString(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
