package vault

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Wire form: the nested maps are flattened to ordered [key, value] pair lists
// so the serialized vault is portable across serialization boundaries and
// deterministic for a given content. Layout:
//
//	{"vault": [[email, {"keyPairs": [[fp, keyPair]...],
//	                    "contacts": [[email, contact]...]}]...]}

type wireVault struct {
	Vault [][2]json.RawMessage `json:"vault"`
}

type wireEntry struct {
	KeyPairs [][2]json.RawMessage `json:"keyPairs"`
	Contacts [][2]json.RawMessage `json:"contacts"`
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func encodePair(key string, value any) ([2]json.RawMessage, error) {
	var pair [2]json.RawMessage
	k, err := json.Marshal(key)
	if err != nil {
		return pair, err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return pair, err
	}
	pair[0], pair[1] = k, v
	return pair, nil
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{
		KeyPairs: make([][2]json.RawMessage, 0, len(e.KeyPairs)),
		Contacts: make([][2]json.RawMessage, 0, len(e.Contacts)),
	}
	for _, fp := range sortedKeys(e.KeyPairs) {
		pair, err := encodePair(fp, e.KeyPairs[fp])
		if err != nil {
			return nil, err
		}
		w.KeyPairs = append(w.KeyPairs, pair)
	}
	for _, email := range sortedKeys(e.Contacts) {
		pair, err := encodePair(email, e.Contacts[email])
		if err != nil {
			return nil, err
		}
		w.Contacts = append(w.Contacts, pair)
	}
	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.KeyPairs = make(map[string]*KeyPair, len(w.KeyPairs))
	e.Contacts = make(map[string]*Contact, len(w.Contacts))
	for _, pair := range w.KeyPairs {
		var fp string
		if err := json.Unmarshal(pair[0], &fp); err != nil {
			return fmt.Errorf("vault: bad keyPairs pair: %w", err)
		}
		kp := &KeyPair{}
		if err := json.Unmarshal(pair[1], kp); err != nil {
			return fmt.Errorf("vault: bad key pair %q: %w", fp, err)
		}
		e.KeyPairs[fp] = kp
	}
	for _, pair := range w.Contacts {
		var email string
		if err := json.Unmarshal(pair[0], &email); err != nil {
			return fmt.Errorf("vault: bad contacts pair: %w", err)
		}
		c := &Contact{}
		if err := json.Unmarshal(pair[1], c); err != nil {
			return fmt.Errorf("vault: bad contact %q: %w", email, err)
		}
		e.Contacts[email] = c
	}
	return nil
}

func (v *Vault) MarshalJSON() ([]byte, error) {
	w := wireVault{Vault: make([][2]json.RawMessage, 0, len(v.Entries))}
	for _, email := range sortedKeys(v.Entries) {
		pair, err := encodePair(email, v.Entries[email])
		if err != nil {
			return nil, err
		}
		w.Vault = append(w.Vault, pair)
	}
	return json.Marshal(w)
}

func (v *Vault) UnmarshalJSON(data []byte) error {
	var w wireVault
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	v.Entries = make(map[string]*Entry, len(w.Vault))
	for _, pair := range w.Vault {
		var email string
		if err := json.Unmarshal(pair[0], &email); err != nil {
			return fmt.Errorf("vault: bad vault pair: %w", err)
		}
		e := NewEntry()
		if err := json.Unmarshal(pair[1], e); err != nil {
			return fmt.Errorf("vault: bad entry %q: %w", email, err)
		}
		v.Entries[email] = e
	}
	return nil
}
