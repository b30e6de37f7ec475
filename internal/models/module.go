package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Module identifies one category of store resource migrated by its own
// pipeline. The set is closed; dispatch happens through a lookup table,
// never open-ended string matching.
type Module string

// Valid migration modules
const (
	ModuleTheme       Module = "theme"
	ModuleProducts    Module = "products"
	ModuleCollections Module = "collections"
	ModulePages       Module = "pages"
	ModuleMedia       Module = "media"
)

// AllModules lists every known module in a stable order
func AllModules() []Module {
	return []Module{ModuleTheme, ModuleProducts, ModuleCollections, ModulePages, ModuleMedia}
}

// IsValidModule checks if a given module name is valid
func IsValidModule(m Module) bool {
	switch m {
	case ModuleTheme, ModuleProducts, ModuleCollections, ModulePages, ModuleMedia:
		return true
	default:
		return false
	}
}

func (m Module) String() string {
	return string(m)
}

// ModuleSelection maps each module to whether it was selected for a
// migration. Stored as a JSON column.
type ModuleSelection map[Module]bool

// Selected returns the selected modules in stable order
func (s ModuleSelection) Selected() []Module {
	var out []Module
	for _, m := range AllModules() {
		if s[m] {
			out = append(out, m)
		}
	}
	return out
}

// Validate checks that every key is a known module and at least one is selected
func (s ModuleSelection) Validate() error {
	if len(s.Selected()) == 0 {
		return errors.New("at least one module must be selected")
	}
	for m := range s {
		if !IsValidModule(m) {
			return fmt.Errorf("unknown module: %s", m)
		}
	}
	return nil
}

// Value implements driver.Valuer for JSON storage
func (s ModuleSelection) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSON storage
func (s *ModuleSelection) Scan(value interface{}) error {
	if value == nil {
		*s = ModuleSelection{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into ModuleSelection", value)
	}
}
