package jack

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed stdlib.json
var content string

// StandardLibraryABI holds a signature-only (no Statements) Class per Jack OS library
// class, keyed by class name. Linking it into a jack.Program via '--stdlib' lets the
// Lowerer resolve calls into Math/String/Array/... without the caller having to vendor
// the actual .jack sources, since only the call's argument count and kind matter to codegen.
var StandardLibraryABI = map[string]Class{}

func init() {
	if err := json.Unmarshal([]byte(content), &StandardLibraryABI); err != nil {
		panic(fmt.Sprintf("jack: malformed embedded stdlib.json: %s", err))
	}
}
