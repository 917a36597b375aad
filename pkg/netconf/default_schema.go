package netconf

import (
	_ "embed"

	"github.com/kasloop/netconfd/pkg/yang"
)

// defaultSchemaYANG is the module loaded when no external schema path is
// configured, so a freshly started server has something to validate and
// filter against. Operators point SSHConfig.SchemaPath at their own YANG
// module to replace it; LoadSchemaFile parses that module into a fresh
// validator (NewValidator, which loads it through LoadModule).
//
//go:embed default_schema.yang
var defaultSchemaYANG string

// LoadDefaultSchema parses the bundled module into a fresh schema
// validator.
func LoadDefaultSchema() (*yang.Validator, error) {
	return yang.NewValidator([]byte(defaultSchemaYANG), "default_schema.yang")
}

// LoadSchemaFile parses source (the contents of a .yang file) into a fresh
// validator, used when SSHConfig.SchemaPath names an operator-supplied
// module instead of the bundled default.
func LoadSchemaFile(source []byte, fileName string) (*yang.Validator, error) {
	return yang.NewValidator(source, fileName)
}
