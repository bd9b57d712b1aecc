// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package validation

import (
	"strings"
	"testing"
)

type registrationForm struct {
	Username string `validate:"required,min=3,max=64"`
	Email    string `validate:"required,email"`
	Code     string `validate:"omitempty,numeric,len=6"`
}

func TestValidateStructPasses(t *testing.T) {
	form := registrationForm{Username: "mri_tech", Email: "tech@clinic.example"}
	if err := ValidateStruct(&form); err != nil {
		t.Fatalf("ValidateStruct() = %v, want nil", err)
	}
}

func TestValidateStructFieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		form      registrationForm
		wantField string
		wantTag   string
	}{
		{
			name:      "missing username",
			form:      registrationForm{Email: "tech@clinic.example"},
			wantField: "Username",
			wantTag:   "required",
		},
		{
			name:      "username too short",
			form:      registrationForm{Username: "ab", Email: "tech@clinic.example"},
			wantField: "Username",
			wantTag:   "min",
		},
		{
			name:      "bad email",
			form:      registrationForm{Username: "mri_tech", Email: "not-an-email"},
			wantField: "Email",
			wantTag:   "email",
		},
		{
			name:      "non-numeric code",
			form:      registrationForm{Username: "mri_tech", Email: "tech@clinic.example", Code: "abcdef"},
			wantField: "Code",
			wantTag:   "numeric",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.form)
			if err == nil {
				t.Fatal("ValidateStruct() = nil, want error")
			}
			errs := err.Errors()
			if len(errs) != 1 {
				t.Fatalf("got %d field errors, want 1: %v", len(errs), err)
			}
			if errs[0].Field() != tt.wantField {
				t.Errorf("Field() = %q, want %q", errs[0].Field(), tt.wantField)
			}
			if errs[0].Tag() != tt.wantTag {
				t.Errorf("Tag() = %q, want %q", errs[0].Tag(), tt.wantTag)
			}
		})
	}
}

func TestToAPIErrorSingle(t *testing.T) {
	form := registrationForm{Username: "mri_tech", Email: "bad"}
	apiErr := ValidateStruct(&form).ToAPIError()

	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "Email") {
		t.Errorf("Message = %q, want mention of Email", apiErr.Message)
	}
	if apiErr.Details["field"] != "Email" {
		t.Errorf("Details[field] = %v, want Email", apiErr.Details["field"])
	}
}

func TestToAPIErrorMultiple(t *testing.T) {
	form := registrationForm{}
	apiErr := ValidateStruct(&form).ToAPIError()

	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("Details[fields] has type %T, want slice of maps", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("got %d field entries, want 2", len(fields))
	}
	if !strings.Contains(apiErr.Message, ";") {
		t.Errorf("Message = %q, want joined messages", apiErr.Message)
	}
}
