// Package usecase parses and renders use cases: markdown-authored procedures
// the model is asked to follow. Lines may be gated by conditions ("<beta>"),
// reference other use cases ("#id") and name tools ("@tool()").
package usecase
