package validation

import "testing"

type sample struct {
	Title       string `json:"title" validate:"required,max=10"`
	DisputeType string `json:"dispute_type" validate:"omitempty,disputetype"`
}

func Test_Validate_UsesJSONFieldNames(t *testing.T) {
	errs, err := Validate(sample{})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs["title"]) == 0 {
		t.Fatalf("want an error keyed by json tag, got %v", errs)
	}
}

func Test_Validate_DisputeType(t *testing.T) {
	if errs, _ := Validate(sample{Title: "ok", DisputeType: "tenancy_deposit"}); errs != nil {
		t.Fatalf("known type rejected: %v", errs)
	}
	if errs, _ := Validate(sample{Title: "ok", DisputeType: "TENANCY_DEPOSIT"}); errs != nil {
		t.Fatalf("dispute type should be case-insensitive: %v", errs)
	}
	if errs, _ := Validate(sample{Title: "ok"}); errs != nil {
		t.Fatalf("empty dispute type is allowed: %v", errs)
	}

	errs, _ := Validate(sample{Title: "ok", DisputeType: "interplanetary"})
	if len(errs["dispute_type"]) == 0 {
		t.Fatalf("unknown type accepted: %v", errs)
	}
}

func Test_KnownDisputeType(t *testing.T) {
	for _, known := range []string{"tenancy_deposit", "Employment", " consumer ", "other"} {
		if !KnownDisputeType(known) {
			t.Errorf("%q should be known", known)
		}
	}
	if KnownDisputeType("interplanetary") {
		t.Error("unknown type reported as known")
	}
}
