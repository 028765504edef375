package dashboard

import (
	"fmt"
	"io"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/tealeg/xlsx"
)

var exportHeaders = []string{
	"Order ID", "Customer", "Status", "Amount", "Amount (minor units)",
	"Configuration", "Ship To", "City", "Country", "Created At",
}

// WriteOrdersXLSX writes one row per order to a single "Orders" sheet.
func WriteOrdersXLSX(w io.Writer, orders []models.Order) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Orders")
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headerRow := sheet.AddRow()
	for _, h := range exportHeaders {
		headerRow.AddCell().SetValue(h)
	}

	for _, o := range orders {
		row := sheet.AddRow()
		row.AddCell().SetValue(o.ID)

		customer := ""
		if o.User != nil {
			customer = o.User.Email
		}
		row.AddCell().SetValue(customer)
		row.AddCell().SetValue(string(o.Status))
		row.AddCell().SetValue(o.Amount.Major())
		row.AddCell().SetInt64(int64(o.Amount))
		row.AddCell().SetValue(o.ConfigurationID)

		var name, city, country string
		if o.ShippingAddress != nil {
			name = o.ShippingAddress.Name
			city = o.ShippingAddress.City
			country = o.ShippingAddress.Country
		}
		row.AddCell().SetValue(name)
		row.AddCell().SetValue(city)
		row.AddCell().SetValue(country)
		row.AddCell().SetValue(o.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}
