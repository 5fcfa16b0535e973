// Package hparams loads flat training-recipe documents ("key: value" per line,
// "#" comments) into immutable typed mappings. It offers coercing accessors,
// batch validation against a declarative Schema and a canonical encoding that
// round-trips.
//
// Duplicate keys are a parse error. Keys a schema does not declare are
// accepted unless the schema is Strict.
package hparams
