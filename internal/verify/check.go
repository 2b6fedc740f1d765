package verify

import (
	"fmt"

	"go.starlark.net/syntax"

	"github.com/starford/mira/internal/apperr"
)

// Check parses contract without running it and makes sure it defines
// verify_circuit with a single parameter.
func Check(contract string) error {
	f, err := (&syntax.FileOptions{}).Parse("contract.star", contract, 0)
	if err != nil {
		return fmt.Errorf("verify: parse contract: %v: %w", err, apperr.ErrInvalidInput)
	}
	for _, stmt := range f.Stmts {
		def, ok := stmt.(*syntax.DefStmt)
		if !ok || def.Name.Name != EntryPoint {
			continue
		}
		if len(def.Params) != 1 {
			return fmt.Errorf("verify: %s takes %d parameters, want 1: %w", EntryPoint, len(def.Params), apperr.ErrInvalidInput)
		}
		return nil
	}
	return fmt.Errorf("verify: contract does not define %s: %w", EntryPoint, apperr.ErrInvalidInput)
}
