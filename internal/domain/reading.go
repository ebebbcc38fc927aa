// Package domain holds the core telemetry types shared across the farmlink packages.
package domain

import "encoding/json"

// Reading is one persisted sensor report from a field device.
//
// Every field except ID is optional: a nil pointer means the device did not
// send the value, and it is stored and rendered as null.
type Reading struct {
	ID            int64    `json:"id"`
	PackageNumber *int64   `json:"numero_pacote"`
	Farm          *string  `json:"fazenda"`
	DeviceID      *string  `json:"dispositivo_id"`
	Temperature   *float64 `json:"temperatura"`
	U1            *float64 `json:"u1"`
	U2            *float64 `json:"u2"`
	U3            *float64 `json:"u3"`
	U4            *float64 `json:"u4"`
	U5            *float64 `json:"u5"`
	Fruit         *string  `json:"fruto"`
	Date          *string  `json:"data"`
	Time          *string  `json:"hora"`

	// Loose holds stored values that do not fit their typed field, keyed by
	// wire name. Older databases may carry e.g. temperatura = 'N/A'. The
	// typed field is nil and the raw value is rendered in its place.
	Loose map[string]any `json:"-"`
}

// ReadingInput is the request shape accepted from devices. It carries the
// twelve device-supplied fields of a Reading, all optional.
type ReadingInput struct {
	PackageNumber *int64   `json:"numero_pacote"`
	Farm          *string  `json:"fazenda"`
	DeviceID      *string  `json:"dispositivo_id"`
	Temperature   *float64 `json:"temperatura"`
	U1            *float64 `json:"u1"`
	U2            *float64 `json:"u2"`
	U3            *float64 `json:"u3"`
	U4            *float64 `json:"u4"`
	U5            *float64 `json:"u5"`
	Fruit         *string  `json:"fruto"`
	Date          *string  `json:"data"`
	Time          *string  `json:"hora"`
}

// ToReading builds the Reading that will be stored for this input. The ID is
// left zero; storage assigns it.
func (in ReadingInput) ToReading() Reading {
	return Reading{
		PackageNumber: in.PackageNumber,
		Farm:          in.Farm,
		DeviceID:      in.DeviceID,
		Temperature:   in.Temperature,
		U1:            in.U1,
		U2:            in.U2,
		U3:            in.U3,
		U4:            in.U4,
		U5:            in.U5,
		Fruit:         in.Fruit,
		Date:          in.Date,
		Time:          in.Time,
	}
}

// Measurements returns the numeric measurements that are present, keyed by
// their wire name.
func (r Reading) Measurements() map[string]float64 {
	out := make(map[string]float64, 6)
	add := func(key string, v *float64) {
		if v != nil {
			out[key] = *v
		}
	}
	add("temperatura", r.Temperature)
	add("u1", r.U1)
	add("u2", r.U2)
	add("u3", r.U3)
	add("u4", r.U4)
	add("u5", r.U5)
	return out
}

// DeviceOr returns the device identifier, or fallback when it is absent or empty.
func (r Reading) DeviceOr(fallback string) string {
	if r.DeviceID == nil || *r.DeviceID == "" {
		return fallback
	}
	return *r.DeviceID
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// SetLoose records a raw value for key that did not fit its typed field.
func (r *Reading) SetLoose(key string, v any) {
	if r.Loose == nil {
		r.Loose = make(map[string]any)
	}
	r.Loose[key] = v
}

// plainReading has Reading's fields without its JSON methods.
type plainReading Reading

// MarshalJSON renders the typed fields, with any loose values in place of
// the null their typed field would show.
func (r Reading) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(plainReading(r))
	if err != nil || len(r.Loose) == 0 {
		return data, err
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for key, v := range r.Loose {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		obj[key] = raw
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts what MarshalJSON produces: a value of the wrong type
// for its field is kept in Loose instead of failing the whole reading.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	var out Reading
	for key, dst := range out.fieldRefs() {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			// A failed decode can leave the pointer allocated; reset it to nil.
			_ = json.Unmarshal([]byte("null"), dst)
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out.SetLoose(key, v)
		}
	}
	*r = out
	return nil
}

func (r *Reading) fieldRefs() map[string]any {
	return map[string]any{
		"id":             &r.ID,
		"numero_pacote":  &r.PackageNumber,
		"fazenda":        &r.Farm,
		"dispositivo_id": &r.DeviceID,
		"temperatura":    &r.Temperature,
		"u1":             &r.U1,
		"u2":             &r.U2,
		"u3":             &r.U3,
		"u4":             &r.U4,
		"u5":             &r.U5,
		"fruto":          &r.Fruit,
		"data":           &r.Date,
		"hora":           &r.Time,
	}
}
