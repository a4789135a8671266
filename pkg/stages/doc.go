// Package stages provides stage implementations for the pipeline.
//
// This package includes:
//   - Func: adapts a plain function into a core.Stage
//   - Tabular: the five stages that turn an uploaded CSV document into a
//     stored JSON, CSV or Excel artifact
package stages
