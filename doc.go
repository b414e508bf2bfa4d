// Package distill turns unstructured natural-language input into typed,
// schema-conformant structured data by driving an external text-generation
// service through an ordered stage pipeline.
//
// The interesting part is not the text transformation itself, which is
// delegated to the external service, but the orchestration discipline
// around unreliable, expensive, stage-ordered external calls: resumable
// multi-stage pipelines, content-addressed caching of paid calls,
// self-correction of malformed responses, and a resilience layer (rate
// limiting, circuit breaking, retry with backoff, cost accounting) that
// wraps every outbound call.
//
// The main entry point is the pipeline package. The llm package defines
// the capability interface an external generation service must satisfy.
package distill
