package ir

import "fmt"

// VariableKey identifies a variable.
type VariableKey struct {
	Namespace Namespace `json:"namespace"`
	Name      string    `json:"name"`
}

func (k VariableKey) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.Name)
}

// Variable is a stored named value.
//
// Timestamp and Signer are populated only for time-based authenticated
// variables: they record the timestamp and signer fingerprint of the last
// accepted write.
type Variable struct {
	Namespace  Namespace  `json:"namespace"`
	Name       string     `json:"name"`
	Attributes Attributes `json:"attributes"`
	Data       []byte     `json:"data"`
	Timestamp  Timestamp  `json:"timestamp,omitzero"`
	Signer     string     `json:"signer,omitempty"`
}

// Key returns the variable's identity.
func (v Variable) Key() VariableKey {
	return VariableKey{Namespace: v.Namespace, Name: v.Name}
}
