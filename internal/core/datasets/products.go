package datasets

import (
	"fmt"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

func init() {
	registerProducts()
}

func registerProducts() {
	specs := []core.FieldSpec{
		{Name: "sku", Type: core.FieldText, Required: true, Normalizer: NormalizeSKU},
		{Name: "name", Type: core.FieldText, Required: true},
		{Name: "price", Type: core.FieldNumeric, Required: true},
		{Name: "category", Type: core.FieldText, Required: true, Normalizer: NormalizeCode},
		{Name: "active", Type: core.FieldBool, AllowEmpty: true},
		{Name: "released", Type: core.FieldDate, AllowEmpty: true},
	}
	build := recordBuilder(specs, "sku")

	core.Register(core.Dataset{
		Info: core.DatasetInfo{
			Key:        "products",
			Label:      "Products",
			KeyColumn:  "sku",
			References: []string{"categories"},
		},
		FieldSpecs:     specs,
		ReferenceField: "category",
		DisplayField:   "name",
		Build: func(row []string, idx core.HeaderIndex) (core.Record, error) {
			rec, err := build(row, idx)
			if err != nil {
				return rec, err
			}
			if price := core.ToPgNumeric(core.Cell(row, idx, "price")); price.Valid && price.Int.Sign() < 0 {
				return core.Record{}, fmt.Errorf("price: invalid number, must not be negative")
			}
			return rec, nil
		},
	})
}
