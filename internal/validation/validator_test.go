// Qring - Access-Session & Realtime-Signaling Engine
// Copyright 2026 Qring
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/useqring/qring

package validation

import (
	"strings"
	"testing"
)

type issueRequest struct {
	PropertyID string   `validate:"required"`
	DoorIDs    []string `validate:"required,min=1,dive,required"`
	Mode       string   `validate:"required,oneof=direct selectable"`
	MaxUses    int      `validate:"omitempty,gte=1"`
}

func TestValidateStructPasses(t *testing.T) {
	req := issueRequest{
		PropertyID: "prop-1",
		DoorIDs:    []string{"door-1"},
		Mode:       "direct",
		MaxUses:    1,
	}
	if err := ValidateStruct(&req); err != nil {
		t.Fatalf("ValidateStruct failed: %v", err)
	}
}

func TestValidateStructSingleError(t *testing.T) {
	req := issueRequest{
		PropertyID: "prop-1",
		DoorIDs:    []string{"door-1"},
		Mode:       "sideways",
	}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation failure")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "must be one of") {
		t.Errorf("Message = %q, want oneof translation", apiErr.Message)
	}
	if apiErr.Details["field"] != "Mode" {
		t.Errorf("Details.field = %v, want Mode", apiErr.Details["field"])
	}
}

func TestValidateStructMultipleErrors(t *testing.T) {
	req := issueRequest{Mode: "direct"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("Errors() = %d, want 2 (PropertyID, DoorIDs)", len(err.Errors()))
	}

	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok || len(fields) != 2 {
		t.Errorf("Details.fields = %v, want 2 entries", apiErr.Details["fields"])
	}
}

func TestTranslations(t *testing.T) {
	tests := []struct {
		name string
		req  interface{}
		want string
	}{
		{"required", &struct {
			ID string `validate:"required"`
		}{}, "ID is required"},
		{"min string", &struct {
			Body string `validate:"min=2"`
		}{Body: "x"}, "Body must be at least 2 characters"},
		{"max int", &struct {
			Uses int `validate:"max=10"`
		}{Uses: 11}, "Uses must be at most 10"},
		{"gte", &struct {
			Limit int `validate:"gte=1"`
		}{Limit: 0}, "Limit must be greater than or equal to 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if err == nil {
				t.Fatal("expected validation failure")
			}
			if got := err.Errors()[0].Error(); got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetValidatorIsSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator returned different instances")
	}
}
