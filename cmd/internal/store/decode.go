package store

import "github.com/mitchellh/mapstructure"

// Decode maps result rows onto out (a pointer to a struct or slice of structs) using `db` tags.
// Driver integer widths and text/number mismatches are coerced.
func Decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
