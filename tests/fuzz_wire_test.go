package tests

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ftlframe/auto-pgp/internal/vault"
)

// FuzzVaultWire feeds arbitrary bytes to the vault deserializer. Inputs
// that parse must re-serialize to a stable form.
func FuzzVaultWire(f *testing.F) {
	f.Add([]byte(`{"vault":[]}`))
	f.Add([]byte(`{"vault":[["a@x.com",{"keyPairs":[],"contacts":[]}]]}`))
	f.Add([]byte(`{`))
	f.Fuzz(func(t *testing.T, data []byte) {
		v := vault.New()
		if err := json.Unmarshal(data, v); err != nil {
			t.Skip()
		}
		first, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal parsed vault: %v", err)
		}
		v2 := vault.New()
		if err := json.Unmarshal(first, v2); err != nil {
			t.Fatalf("reparse own output: %v", err)
		}
		second, err := json.Marshal(v2)
		if err != nil {
			t.Fatalf("remarshal: %v", err)
		}
		if !bytes.Equal(first, second) {
			t.Fatalf("unstable wire form:\n%s\n%s", first, second)
		}
	})
}
