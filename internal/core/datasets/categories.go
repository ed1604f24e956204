package datasets

import "github.com/JonMunkholm/bulkimport/internal/core"

func init() {
	specs := []core.FieldSpec{
		{Name: "code", Type: core.FieldText, Required: true, Normalizer: NormalizeCode},
		{Name: "name", Type: core.FieldText, Required: true},
		{Name: "parent", Type: core.FieldText, AllowEmpty: true, Normalizer: NormalizeCode},
	}

	core.Register(core.Dataset{
		Info: core.DatasetInfo{
			Key:       "categories",
			Label:     "Categories",
			KeyColumn: "code",
		},
		FieldSpecs:   specs,
		DisplayField: "name",
		Build:        recordBuilder(specs, "code"),
	})
}
