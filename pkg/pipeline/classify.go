package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/fartrucking/far-warehousing/pkg/normalize"
	"github.com/fartrucking/far-warehousing/pkg/tabular"
	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Folders files are routed into. Objects under these prefixes are never read.
const (
	FolderProcessed    = "processed/"
	FolderNotProcessed = "not-processed/"
	FolderDocuments    = "Documents/"
)

// Outcome is the routing prefix of a file, without the trailing underscore.
type Outcome string

const (
	OutcomeDone          Outcome = "DONE"
	OutcomeFailed        Outcome = "FAILED"
	OutcomeEmpty         Outcome = "EMPTY"
	OutcomeUnrecognized  Outcome = "UNRECOGNIZED"
	OutcomeError         Outcome = "ERROR"
	OutcomeItemError     Outcome = "ERROR_ITEM"
	OutcomePOError       Outcome = "ERROR_PO"
	OutcomeCustomerError Outcome = "ERROR_CUSTOMER"
	OutcomeSOError       Outcome = "ERROR_SO"
)

// Destination returns where a file with this outcome is moved.
func (o Outcome) Destination(name string) string {
	folder := FolderNotProcessed
	if o == OutcomeDone {
		folder = FolderProcessed
	}
	return fmt.Sprintf("%s%s_%s", folder, o, path.Base(name))
}

// kindRule describes one record kind: the header pair that identifies it and
// how it is reported.
type kindRule struct {
	Kind     string
	Label    string
	Headers  [2]string
	Failure  Outcome
	Template string
}

// kinds in processing order. Classification takes the first match.
var kinds = []kindRule{
	{Kind: zoho.KindItem, Label: "item", Headers: [2]string{normalize.FieldSKU, normalize.FieldName}, Failure: OutcomeItemError, Template: "Item files"},
	{Kind: zoho.KindPurchaseOrder, Label: "PO", Headers: [2]string{normalize.FieldPurchaseOrderNumber, normalize.FieldVendorName}, Failure: OutcomePOError, Template: "Purchase Order (PO) files"},
	{Kind: zoho.KindContact, Label: "customer", Headers: [2]string{normalize.FieldContactName, normalize.FieldCompanyName}, Failure: OutcomeCustomerError, Template: "Customer files"},
	{Kind: zoho.KindSalesOrder, Label: "SO", Headers: [2]string{normalize.FieldCustomerName, normalize.FieldSalesOrderNumber}, Failure: OutcomeSOError, Template: "Sales Order (SO) files"},
}

func ruleFor(kind string) kindRule {
	for _, k := range kinds {
		if k.Kind == kind {
			return k
		}
	}
	return kindRule{Kind: kind, Label: kind, Failure: OutcomeError}
}

// Classify returns the record kind whose identifying headers the table has.
func Classify(table normalize.Table) (string, bool) {
	for _, k := range kinds {
		if table.HasHeaders(k.Headers[0], k.Headers[1]) {
			return k.Kind, true
		}
	}
	return "", false
}

// Skip reports whether an object should not be read at all.
func Skip(name string) bool {
	switch {
	case name == "", strings.HasSuffix(name, "/"):
		return true
	case strings.HasPrefix(name, FolderDocuments), strings.HasPrefix(name, FolderProcessed), strings.HasPrefix(name, FolderNotProcessed):
		return true
	}
	return !tabular.Supported(name)
}

// UnrecognizedMessage explains the header pairs each kind needs.
func UnrecognizedMessage(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your file %q could not be processed. Please ensure your file contains the required headers for one of these supported file types:\n", name)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  - %s: must include %q and %q headers\n", k.Template, k.Headers[0], k.Headers[1])
	}
	b.WriteString("\nPlease reformat your file according to our templates and try again.")
	return b.String()
}
