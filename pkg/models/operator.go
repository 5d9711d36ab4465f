package models

// Operator is the authenticated human behind a control request.
type Operator struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
}

// Label is the identity recorded in the intervention log.
func (o Operator) Label() string {
	if o.Email != "" {
		return o.Email
	}
	return o.Subject
}
