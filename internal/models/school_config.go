package models

import "time"

// DefaultConfirmationTemplate is used when a school has not customised its enrollment confirmation.
const DefaultConfirmationTemplate = "Confirmamos a inscrição de {nome} no curso {curso}. Número de inscrição: {numero}. Data: {data}."

// ConfirmationVariables are the placeholders accepted by the confirmation template.
var ConfirmationVariables = []string{"nome", "curso", "numero", "data"}

// SchoolConfiguration is the single settings row of the installation.
type SchoolConfiguration struct {
	ID                   string    `db:"id" json:"id"`
	SchoolName           string    `db:"school_name" json:"school_name"`
	Address              string    `db:"address" json:"address"`
	Phone                string    `db:"phone" json:"phone"`
	Email                string    `db:"email" json:"email"`
	LogoPath             *string   `db:"logo_path" json:"logo_path,omitempty"`
	ConfirmationTemplate string    `db:"confirmation_template" json:"confirmation_template"`
	UpdatedBy            *string   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}
