package datasets

import "github.com/JonMunkholm/bulkimport/internal/core"

// Roles lists the accepted values of the users role column.
var Roles = []string{"admin", "editor", "viewer"}

func init() {
	specs := []core.FieldSpec{
		{Name: "email", Type: core.FieldText, Required: true, Normalizer: NormalizeEmail},
		{Name: "name", Type: core.FieldText, Required: true},
		{Name: "role", Type: core.FieldEnum, Required: true, EnumValues: Roles},
		{Name: "active", Type: core.FieldBool, AllowEmpty: true},
	}

	core.Register(core.Dataset{
		Info: core.DatasetInfo{
			Key:       "users",
			Label:     "Users",
			KeyColumn: "email",
		},
		FieldSpecs:   specs,
		DisplayField: "name",
		Build:        recordBuilder(specs, "email"),
	})
}
