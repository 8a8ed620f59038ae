// Package model holds the serving-side vocabulary shared by the registry,
// loader and gateway packages:
//
//   - reference.go: Stage and Reference, the registry's pointer to an artifact.
//   - handle.go: Handle, the immutable loaded model, and the Predictor contract.
//   - features.go: the input contract for /predict and the feature transform.
//   - errors.go: the error taxonomy and IsXxx helpers used for HTTP mapping.
package model
