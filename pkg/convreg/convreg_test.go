package convreg

import "testing"

func TestBuildAndLookup(t *testing.T) {
	r := Build([]ModelInfoConversion{
		{FromType: "FHIR.code", ToType: "System.String", Function: "FHIRHelpers.ToString"},
		{FromType: "FHIR.CodeableConcept", ToType: "System.Concept", Function: "FHIRHelpers.ToConcept"},
	})

	if got := r.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	fn, ok := r.Lookup("FHIR.code", "System.String")
	if !ok || fn != "FHIRHelpers.ToString" {
		t.Fatalf("Lookup(FHIR.code, System.String) = %q, %v", fn, ok)
	}

	if _, ok := r.Lookup("FHIR.code", "System.Integer"); ok {
		t.Fatal("expected no conversion for FHIR.code -> System.Integer")
	}
}

func TestBuildLaterOverridesEarlier(t *testing.T) {
	r := Build([]ModelInfoConversion{
		{FromType: "FHIR.code", ToType: "System.String", Function: "Base.ToString"},
		{FromType: "FHIR.code", ToType: "System.String", Function: "Profile.ToString"},
	})

	fn, ok := r.Lookup("FHIR.code", "System.String")
	if !ok || fn != "Profile.ToString" {
		t.Fatalf("Lookup() = %q, %v, want Profile.ToString", fn, ok)
	}
}

func TestMustLookupPanicsWhenMissing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustLookup to panic for unknown conversion")
		}
	}()

	r := Build(nil)
	r.MustLookup("FHIR.code", "System.String")
}
