package zoho

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

func init() {
	// the API rejects quoted numbers
	decimal.MarshalJSONWithoutQuotes = true
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type ItemPayload struct {
	SKU              string          `json:"sku" validate:"required"`
	Name             string          `json:"name" validate:"required"`
	ItemType         string          `json:"item_type,omitempty"`
	ProductType      string          `json:"product_type,omitempty"`
	Unit             string          `json:"unit,omitempty"`
	InitialStock     decimal.Decimal `json:"initial_stock"`
	InitialStockRate decimal.Decimal `json:"initial_stock_rate"`
	WarehouseName    string          `json:"warehouse_name,omitempty"`
}

type ContactPayload struct {
	ContactName     string  `json:"contact_name" validate:"required_without=CompanyName"`
	CompanyName     string  `json:"company_name" validate:"required_without=ContactName"`
	ContactType     string  `json:"contact_type" validate:"oneof=customer vendor"`
	BillingAddress  Address `json:"billing_address"`
	ShippingAddress Address `json:"shipping_address"`
	LanguageCode    string  `json:"language_code,omitempty"`
	CurrencyID      string  `json:"currency_id,omitempty"`
	TaxID           string  `json:"tax_id,omitempty"`
	GSTNo           string  `json:"gst_no,omitempty"`
	GSTTreatment    string  `json:"gst_treatment,omitempty"`
}

type LineItem struct {
	ItemID           string           `json:"item_id" validate:"required"`
	SKU              string           `json:"sku,omitempty"`
	Name             string           `json:"name,omitempty"`
	Quantity         decimal.Decimal  `json:"quantity"`
	Unit             string           `json:"unit,omitempty"`
	Rate             *decimal.Decimal `json:"rate,omitempty"`
	ItemTotal        decimal.Decimal  `json:"item_total"`
	UnitConversionID string           `json:"unit_conversion_id,omitempty"`
	WarehouseID      string           `json:"warehouse_id" validate:"required"`
}

type PurchaseOrderPayload struct {
	Number               string     `json:"purchaseorder_number" validate:"required"`
	Date                 string     `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DeliveryDate         string     `json:"delivery_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	VendorID             string     `json:"vendor_id" validate:"required"`
	Attention            string     `json:"attention,omitempty"`
	DeliveryOrgAddressID string     `json:"delivery_org_address_id,omitempty"`
	LineItems            []LineItem `json:"line_items" validate:"required,min=1,dive"`
}

type SalesOrderPayload struct {
	CustomerID          string          `json:"customer_id" validate:"required"`
	Number              string          `json:"salesorder_number" validate:"required"`
	Date                string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ShipmentDate        string          `json:"shipment_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Notes               string          `json:"notes,omitempty"`
	Terms               string          `json:"terms,omitempty"`
	Discount            string          `json:"discount,omitempty"`
	IsDiscountBeforeTax bool            `json:"is_discount_before_tax"`
	ShippingCharge      decimal.Decimal `json:"shipping_charge"`
	DeliveryMethod      string          `json:"delivery_method,omitempty"`
	LineItems           []LineItem      `json:"line_items" validate:"required,min=1,dive"`
}

// Validate checks a payload before it is sent.
func Validate(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid payload: %s", strings.Join(msgs, "; "))
}
