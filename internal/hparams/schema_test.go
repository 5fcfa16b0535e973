package hparams

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/multierr"
)

func testSchema() Schema {
	return Schema{
		Fields: []Field{
			{Key: "batch_size", Kind: KindInt, Required: true, Min: Limit(1)},
			{Key: "lr", Kind: KindFloat, Required: true, Min: Limit(0), MinExclusive: true},
			{Key: "weight_decay", Kind: KindFloat, Min: Limit(0), Default: FloatValue(0)},
			{Key: "hflip", Kind: KindFloat, Min: Limit(0), Max: Limit(1)},
			{Key: "interpolation", Kind: KindString, OneOf: []string{"bilinear", "bicubic", "nearest"}, Default: StringValue("bilinear")},
			{Key: "model", Kind: KindString, Required: true},
		},
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, "batch_size: 128\nlr: 0.001\nweight_decay: 0.05\nhflip: 0.5\ninterpolation: bicubic\nmodel: visformer_tiny_v2\n")
	if errs := doc.Validate(testSchema()); len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
	if err := Check(doc, testSchema()); err != nil {
		t.Fatalf("expected Check to pass, got %v", err)
	}
}

func TestValidateFlagsRangeViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		key  string
	}{
		{line: "batch_size: -1", key: "batch_size"},
		{line: "batch_size: 0", key: "batch_size"},
		{line: "lr: 0", key: "lr"},
		{line: "lr: -0.1", key: "lr"},
		{line: "weight_decay: -0.05", key: "weight_decay"},
		{line: "hflip: 1.5", key: "hflip"},
		{line: "hflip: .nan", key: "hflip"},
		{line: "lr: .nan", key: "lr"},
		{line: "weight_decay: .NaN", key: "weight_decay"},
		{line: "interpolation: lanczos", key: "interpolation"},
	}

	base := map[string]string{
		"batch_size": "batch_size: 128",
		"lr":         "lr: 0.001",
		"model":      "model: visformer_tiny_v2",
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()

			input := tc.line + "\n"
			for key, line := range base {
				if key != tc.key {
					input += line + "\n"
				}
			}
			doc := mustParse(t, input)

			errs := doc.Validate(testSchema())
			if len(errs) != 1 {
				t.Fatalf("expected exactly one violation, got %v", errs)
			}
			var ve *ValidationError
			if !errors.As(errs[0], &ve) || ve.Key != tc.key {
				t.Fatalf("expected ValidationError for %s, got %v", tc.key, errs[0])
			}
			if !errors.Is(errs[0], ErrInvalidValue) {
				t.Fatalf("expected violation to match ErrInvalidValue")
			}
		})
	}
}

func TestValidateReportsAllViolations(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, "batch_size: -1\nlr: fast\nhflip: 2.0\nextra: 1\n")
	errs := doc.Validate(testSchema())

	want := []error{ErrInvalidValue, ErrTypeMismatch, ErrInvalidValue, ErrMissingKey}
	if len(errs) != len(want) {
		t.Fatalf("expected %d violations, got %d: %v", len(want), len(errs), errs)
	}
	for i, target := range want {
		if !errors.Is(errs[i], target) {
			t.Fatalf("violation %d: expected %v, got %v", i, target, errs[i])
		}
	}

	combined := Check(doc, testSchema())
	if got := len(multierr.Errors(combined)); got != len(want) {
		t.Fatalf("expected combined error with %d parts, got %d", len(want), got)
	}
}

func TestValidateStrictReportsUnknownKeys(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, "batch_size: 1\nlr: 0.1\nmodel: m\nextra: 1\nother: x\n")

	lenient := testSchema()
	if errs := doc.Validate(lenient); len(errs) != 0 {
		t.Fatalf("expected unknown keys to be accepted, got %v", errs)
	}

	strict := testSchema()
	strict.Strict = true
	errs := doc.Validate(strict)
	if len(errs) != 2 {
		t.Fatalf("expected 2 unknown-key violations, got %v", errs)
	}
	for i, key := range []string{"extra", "other"} {
		var ve *ValidationError
		if !errors.As(errs[i], &ve) || ve.Key != key || ve.Reason != "unknown key" {
			t.Fatalf("expected unknown key %s, got %v", key, errs[i])
		}
	}
}

func TestValidateRunsRules(t *testing.T) {
	t.Parallel()

	schema := testSchema()
	schema.Rules = []Rule{
		func(d *Document) error {
			wd, err := d.Float("weight_decay")
			if err != nil {
				return nil
			}
			lr, err := d.Float("lr")
			if err != nil || wd <= lr {
				return nil
			}
			return &ValidationError{Key: "weight_decay", Value: fmt.Sprint(wd), Reason: "must not exceed lr"}
		},
	}

	doc := mustParse(t, "batch_size: 1\nlr: 0.01\nweight_decay: 0.5\nmodel: m\n")
	errs := doc.Validate(schema)
	if len(errs) != 1 || !errors.Is(errs[0], ErrInvalidValue) {
		t.Fatalf("expected one rule violation, got %v", errs)
	}

	// rules tolerate absent keys
	doc = mustParse(t, "batch_size: 1\nlr: 0.01\nmodel: m\n")
	if errs := doc.Validate(schema); len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, "batch_size: 1\nlr: 0.01\nmodel: m\ninterpolation: nearest\n")
	filled := doc.WithDefaults(testSchema())

	if doc.Has("weight_decay") {
		t.Fatalf("expected original document to remain unchanged")
	}
	if wd, err := filled.Float("weight_decay"); err != nil || wd != 0 {
		t.Fatalf("expected default weight_decay 0, got %v (%v)", wd, err)
	}
	if interp, _ := filled.String("interpolation"); interp != "nearest" {
		t.Fatalf("expected explicit interpolation to win over default, got %s", interp)
	}
	if filled.Len() != doc.Len()+1 {
		t.Fatalf("expected exactly one default to be added, got %d entries", filled.Len())
	}
}

func TestFieldBoundsMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		field Field
		want  string
	}{
		{field: Field{Min: Limit(1)}, want: ">= 1"},
		{field: Field{Min: Limit(0), MinExclusive: true}, want: "> 0"},
		{field: Field{Min: Limit(0), Max: Limit(1)}, want: "in [0, 1]"},
		{field: Field{Min: Limit(0), Max: Limit(1), MaxExclusive: true}, want: "in [0, 1)"},
		{field: Field{Max: Limit(10)}, want: "<= 10"},
	}
	for _, tc := range tests {
		if got := tc.field.bounds(); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}
