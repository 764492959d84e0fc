package openapi_test

import (
	"context"
	"errors"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/field"
	"github.com/goliatone/go-formflow/pkg/openapi"
	"github.com/goliatone/go-formflow/pkg/source"
	"github.com/goliatone/go-formflow/pkg/step"
)

const bookingDocument = `
openapi: 3.0.3
info:
  title: Booking
  version: 1.0.0
paths:
  /bookings:
    post:
      operationId: createBooking
      summary: Book a room
      x-formflow-lead:
        id: welcome
        title: Welcome
      x-formflow-steps:
        - id: stay
          title: Your stay
        - id: extras
          title: Extras
          when: guests > 1
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [arrival, guests]
              properties:
                hotel:
                  type: string
                  enum: [harbour, old-town]
                  x-formflow-step: welcome
                arrival:
                  type: string
                  format: date
                  title: Arrival
                  x-formflow-step: stay
                  x-formflow-order: 1
                guests:
                  type: integer
                  minimum: 1
                  maximum: 6
                  x-formflow-step: stay
                  x-formflow-order: 2
                room:
                  type: string
                  enum: [single, double]
                  x-formflow-step: stay
                  x-formflow-order: 3
                amenities:
                  type: array
                  minItems: 1
                  items:
                    type: string
                    enum: [parking, breakfast]
                  x-formflow-step: extras
                  x-formflow-order: 4
                id_scan:
                  type: string
                  format: binary
                  x-formflow-step: extras
                  x-formflow-order: 5
                  x-formflow-max-bytes: 1048576
                  x-formflow-accept: [image/png, image/jpeg]
                  x-formflow-visible-when: amenities contains "parking"
                comments:
                  type: string
                  maxLength: 200
                  description: Anything else?
                  x-formflow-label: Notes
                  x-formflow-multiline: true
                score:
                  type: integer
                  minimum: 1
                  maximum: 10
                  x-formflow-kind: rating
      responses:
        "201":
          description: created
`

func TestProviderConvertsRequestBody(t *testing.T) {
	p, err := openapi.NewProvider([]byte(bookingDocument), "createBooking")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	want := source.Snapshot{
		Lead: &step.Lead{
			Section: step.Section{ID: "welcome", Title: "Welcome"},
			Fields: []field.Descriptor{
				{ID: "hotel", Kind: field.KindChoice, Step: "welcome", Constraints: field.Constraints{Options: []field.Option{{Value: "harbour"}, {Value: "old-town"}}}},
			},
		},
		Sections: []step.Section{
			{ID: "stay", Title: "Your stay"},
			{ID: "extras", Title: "Extras", When: "guests > 1"},
		},
		Fields: []field.Descriptor{
			{ID: "arrival", Kind: field.KindDate, Label: "Arrival", Step: "stay", Constraints: field.Constraints{Required: true}},
			{ID: "guests", Kind: field.KindNumber, Step: "stay", Constraints: field.Constraints{Required: true, Min: field.FloatPtr(1), Max: field.FloatPtr(6)}},
			{ID: "room", Kind: field.KindChoice, Step: "stay", Constraints: field.Constraints{Options: []field.Option{{Value: "single"}, {Value: "double"}}}},
			{ID: "amenities", Kind: field.KindMultiChoice, Step: "extras", Constraints: field.Constraints{MinItems: field.IntPtr(1), Options: []field.Option{{Value: "parking"}, {Value: "breakfast"}}}},
			{ID: "id_scan", Kind: field.KindFile, Step: "extras", VisibleWhen: `amenities contains "parking"`, Constraints: field.Constraints{MaxBytes: 1048576, Accept: []string{"image/png", "image/jpeg"}}},
			{ID: "comments", Kind: field.KindText, Label: "Notes", Help: "Anything else?", Constraints: field.Constraints{MaxLength: field.IntPtr(200), Multiline: true}},
			{ID: "score", Kind: field.KindRating, Constraints: field.Constraints{Min: field.FloatPtr(1), Max: field.FloatPtr(10)}},
		},
	}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if p.Title() != "Book a room" {
		t.Fatalf("unexpected title %q", p.Title())
	}
	if method, path := p.Route(); method != "POST" || path != "/bookings" {
		t.Fatalf("unexpected route %s %s", method, path)
	}

	steps, err := step.Derive(snap.Fields, snap.DeriveOptions()...)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	var ids []string
	for _, def := range steps {
		ids = append(ids, def.ID)
	}
	if diff := cmp.Diff([]string{"welcome", "stay", "extras"}, ids); diff != "" {
		t.Fatalf("step ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hotel"}, steps[0].FieldIDs()); diff != "" {
		t.Fatalf("lead fields mismatch (-want +got):\n%s", diff)
	}
	if !steps[2].HasField("comments") || !steps[2].HasField("score") {
		t.Fatalf("unkeyed fields should join the preceding step: %v", steps[2].FieldIDs())
	}
}

func TestProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		op   string
		doc  string
		want error
	}{
		{name: "unknown operation", op: "missing", doc: bookingDocument, want: openapi.ErrOperationNotFound},
		{name: "empty operation", op: " ", doc: bookingDocument, want: openapi.ErrOperationNotFound},
		{
			name: "no body",
			op:   "listBookings",
			doc: `
openapi: 3.0.3
info: {title: t, version: "1"}
paths:
  /bookings:
    get:
      operationId: listBookings
      responses:
        "200": {description: ok}
`,
			want: openapi.ErrNoRequestBody,
		},
		{
			name: "nested object",
			op:   "create",
			doc: `
openapi: 3.0.3
info: {title: t, version: "1"}
paths:
  /things:
    post:
      operationId: create
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                address:
                  type: object
                  properties:
                    street: {type: string}
      responses:
        "201": {description: ok}
`,
			want: openapi.ErrUnsupportedProperty,
		},
	}
	for _, tc := range cases {
		_, err := openapi.NewProvider([]byte(tc.doc), tc.op)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestProviderLoadNotifiesWatchers(t *testing.T) {
	p, err := openapi.NewProvider([]byte(bookingDocument), "createBooking")
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	var counts []int
	stop := p.Watch(func(s source.Snapshot) { counts = append(counts, len(s.Fields)) })
	defer stop()

	const smaller = `
openapi: 3.0.3
info: {title: t, version: "2"}
paths:
  /bookings:
    post:
      operationId: createBooking
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name: {type: string}
      responses:
        "201": {description: ok}
`
	if err := p.Load(context.Background(), []byte(smaller)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := p.Load(context.Background(), []byte("not: [valid")); err == nil {
		t.Fatalf("expected invalid document to fail")
	}
	if diff := cmp.Diff([]int{1}, counts); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
	if p.Title() != "createBooking" {
		t.Fatalf("expected title to fall back to operation id, got %q", p.Title())
	}
}

func TestKindResolverCustomMatcher(t *testing.T) {
	r := openapi.NewKindResolver()
	r.Register("slider", 95, func(s *openapi3.Schema) bool {
		return s.Format == "percent"
	})

	schema := openapi3.NewIntegerSchema()
	schema.Format = "percent"
	if kind, ok := r.Resolve(schema); !ok || kind != "slider" {
		t.Fatalf("expected slider, got %q (%v)", kind, ok)
	}
	if kind, _ := r.Resolve(openapi3.NewBoolSchema()); kind != field.KindBoolean {
		t.Fatalf("expected boolean, got %q", kind)
	}
	if _, ok := r.Resolve(openapi3.NewObjectSchema()); ok {
		t.Fatalf("objects should not resolve")
	}
}
