// Package pipeline runs a task's ordered stages over an in-memory bundle of
// assets. Outputs are staged during the run and only written, through the
// artifact store, once every stage succeeded, so a failing pipeline leaves
// the previous outputs untouched.
package pipeline
